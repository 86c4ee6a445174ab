// Package main provides the tether CLI entrypoint.
//
// Usage:
//
//	tether <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: runtime failure
//   - 2: invalid configuration
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/cmd"
	"github.com/pithecene-io/tether/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:           "tether",
		Usage:          "Multi-agent remote control server",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.AgentsCommand(),
			cmd.StatsCommand(),
			cmd.KeygenCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for every non-nil error; this covers
		// errors raised before it runs, such as flag parsing.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps err to a process exit code and the message worth printing.
// cli.Exit codes are kept, including through wrapping; anything else is 1.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is "exit status N"; nothing to print.
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
