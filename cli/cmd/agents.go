package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/cli/tui"
	"github.com/pithecene-io/tether/registry"
	"github.com/pithecene-io/tether/types"
)

// AgentsCommand lists the persistent agent directory. It reads the file only
// and never contacts a running server.
func AgentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "agents",
		Usage: "List every agent recorded in the agent directory",
		Flags: append(append(ReadOnlyFlags(), ConfigFlags()...),
			&cli.StringFlag{
				Name:  "agents-file",
				Usage: "Agent directory file (overrides config)",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "Only list agents holding this role",
			},
		),
		Action: agentsAction,
	}
}

func agentsAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	path := cfg.Output.AgentsFile
	if c.IsSet("agents-file") {
		path = c.String("agents-file")
	}

	records, err := registry.NewDirectory(path).Load()
	if err != nil {
		return cli.Exit(fmt.Sprintf("load agents: %v", err), exitFailure)
	}
	records = filterByRole(records, c.String("role"))
	if records == nil {
		records = []types.AgentRecord{}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewAgents, records)
	}
	return r.Render(records)
}

func filterByRole(records []types.AgentRecord, role string) []types.AgentRecord {
	if role == "" {
		return records
	}
	var out []types.AgentRecord
	for _, rec := range records {
		for _, r := range rec.Roles {
			if r == role {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}
