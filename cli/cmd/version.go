package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitFailure)
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:   types.Version,
			Commit:    commit,
			GoVersion: runtime.Version(),
		})
	}
}
