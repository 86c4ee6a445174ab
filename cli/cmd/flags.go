// Package cmd provides CLI commands for the tether binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/config"
)

// Exit codes.
const (
	exitFailure     = 1
	exitConfigError = 2
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (agents, stats only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can give an explicit error
// instead of a generic "flag not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ConfigFlags locate the configuration sources shared by every command
// that reads tether.yaml.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to tether.yaml",
			EnvVars: []string{"TETHER_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "Dotenv files loaded before the environment is read",
			Value: cli.NewStringSlice(".env"),
		},
	}
}

// resolveConfig loads the config named by the shared flags.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"), c.StringSlice("env-file")...)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	return cfg, nil
}
