package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/cli/tui"
	"github.com/pithecene-io/tether/metrics"
)

const statsTimeout = 5 * time.Second

// StatsCommand scrapes a running server's metrics endpoint and shows the
// counters.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show counters from a running server's metrics endpoint",
		Flags: append(append(ReadOnlyFlags(), ConfigFlags()...),
			&cli.StringFlag{
				Name:  "url",
				Usage: "Metrics URL (default derived from metrics.addr)",
			},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	url := c.String("url")
	if url == "" {
		cfg, err := resolveConfig(c)
		if err != nil {
			return err
		}
		if cfg.Metrics.Addr == "" {
			return cli.Exit("metrics endpoint not configured: set metrics.addr or --url", exitConfigError)
		}
		url = metricsURL(cfg.Metrics.Addr)
	}

	ctx, cancel := context.WithTimeout(c.Context, statsTimeout)
	defer cancel()
	snap, err := fetchSnapshot(ctx, url)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStats, snap)
	}
	return r.Render(snap)
}

// metricsURL turns a listen address into a scrape URL. An empty host means
// the local machine.
func metricsURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/metrics"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/metrics"
}

func fetchSnapshot(ctx context.Context, url string) (metrics.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("scrape %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return metrics.Snapshot{}, fmt.Errorf("scrape %s: unexpected status %d", url, resp.StatusCode)
	}
	return metrics.ParseExposition(resp.Body)
}
