package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/adapter/redis"
	"github.com/pithecene-io/tether/adapter/webhook"
	"github.com/pithecene-io/tether/cipher"
	"github.com/pithecene-io/tether/cli/config"
	"github.com/pithecene-io/tether/cli/console"
	"github.com/pithecene-io/tether/dispatch"
	"github.com/pithecene-io/tether/journal"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/recording"
	"github.com/pithecene-io/tether/registry"
	"github.com/pithecene-io/tether/session"
	"github.com/pithecene-io/tether/storage"
	"github.com/pithecene-io/tether/transfer"
)

// shutdownTimeout bounds draining notifications and stopping the metrics server.
const shutdownTimeout = 10 * time.Second

// ServeCommand returns the serve command, the agent listener.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept agent connections and persist what they send",
		Flags: append(ConfigFlags(),
			&cli.StringFlag{Name: "host", Usage: "Listen host (overrides LHOST)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (overrides LPORT)"},
			&cli.BoolFlag{Name: "encrypt", Usage: "Decrypt agent traffic with the RSA private key (overrides TLS)"},
			&cli.StringFlag{Name: "key-dir", Usage: "Directory holding the private key"},
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "Directory for received files and videos"},
			&cli.StringFlag{Name: "journal", Usage: "Message journal file (overrides OUT_FILE)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.DurationFlag{Name: "idle-timeout", Usage: "Close connections idle this long (0 disables)"},
			&cli.IntFlag{Name: "max-connections", Usage: "Reject connections beyond this many (0 is unlimited)"},
			&cli.BoolFlag{Name: "console", Usage: "Read operator commands from stdin"},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	applyServeFlags(c, cfg)

	warnings, err := cfg.Validate()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}

	logger, err := log.NewLogger(cfg.LogLevel, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range warnings {
		logger.Warn(w, nil)
	}

	stack, err := buildStack(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	ln, err := net.Listen("tcp", cfg.Listen.Addr())
	if err != nil {
		_ = stack.shutdown(context.Background())
		return cli.Exit(fmt.Sprintf("listen %s: %v", cfg.Listen.Addr(), err), exitFailure)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Bool("console") {
		go func() {
			con := console.New(console.Options{
				Registry:  stack.registry,
				Directory: stack.directory,
				Out:       c.App.Writer,
				Logger:    logger,
			})
			if err := con.Run(ctx, os.Stdin); err != nil {
				logger.Error("console stopped", map[string]any{"error": err.Error()})
			}
			stop()
		}()
	}

	serveErr := stack.run(ctx, ln)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stack.shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
	}
	if serveErr != nil {
		return cli.Exit(serveErr.Error(), exitFailure)
	}
	return nil
}

// applyServeFlags overrides cfg with explicitly set flags.
func applyServeFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("host") {
		cfg.Listen.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Listen.Port = c.Int("port")
	}
	if c.IsSet("encrypt") {
		cfg.Crypto.Enabled = c.Bool("encrypt")
	}
	if c.IsSet("key-dir") {
		cfg.Crypto.KeyDir = c.String("key-dir")
	}
	if c.IsSet("output-dir") {
		cfg.Output.Dir = c.String("output-dir")
	}
	if c.IsSet("journal") {
		cfg.Output.Journal = c.String("journal")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("idle-timeout") {
		cfg.Listen.IdleTimeout = config.Duration{Duration: c.Duration("idle-timeout")}
	}
	if c.IsSet("max-connections") {
		cfg.Listen.MaxConnections = c.Int("max-connections")
	}
}

// serverStack owns every long-lived component of a serve invocation.
type serverStack struct {
	cfg       *config.Config
	logger    *log.Logger
	collector *metrics.Collector
	registry  *registry.Registry
	directory *registry.Directory
	notifier  *adapter.Notifier
	journal   *journal.Journal
	server    *session.Server

	metricsServer *http.Server
	metricsAddr   string
}

func buildStack(cfg *config.Config, logger *log.Logger) (*serverStack, error) {
	var (
		transport  cipher.Cipher = cipher.Identity{}
		encryption               = "none"
	)
	if cfg.Crypto.Enabled {
		key, err := cipher.LoadPrivateKeyFile(cfg.Crypto.PrivateKeyPath())
		if err != nil {
			return nil, fmt.Errorf("load private key %s: %w (run tether keygen)", cfg.Crypto.PrivateKeyPath(), err)
		}
		transport = cipher.NewOAEP(key)
		encryption = "rsa-oaep"
	}

	sink, err := storage.NewFSSink(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	format, err := journal.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	jrnl, err := journal.Open(cfg.Output.Journal, journal.Options{
		Format:   format,
		Location: loc,
		Actor:    cfg.Output.Actor,
	})
	if err != nil {
		return nil, err
	}

	adapters, err := buildAdapters(cfg.Adapters)
	if err != nil {
		_ = jrnl.Close()
		return nil, err
	}

	collector := metrics.NewCollector(encryption, "fs")
	notifier := adapter.NewNotifier(adapters, adapter.DefaultQueueSize, logger)
	reg := registry.New()
	directory := registry.NewDirectory(cfg.Output.AgentsFile)

	dispatcher := dispatch.New(dispatch.Options{
		Files: transfer.New(sink, transfer.Limits{
			MaxTransferBytes: cfg.Limits.MaxTransferBytes,
			MaxChunks:        cfg.Limits.MaxChunks,
		}, logger),
		Recordings: recording.NewAssembler(recording.Options{
			Sink:    sink,
			Encoder: recording.FFmpeg{Path: cfg.Recording.FFmpegPath},
			Limits: recording.Limits{
				MaxFrames:         cfg.Limits.MaxFrames,
				MaxRecordingBytes: cfg.Limits.MaxRecordingBytes,
			},
			TempDir: cfg.Recording.TempDir,
			Logger:  logger,
		}),
		Journal:   jrnl,
		Notifier:  notifier,
		Collector: collector,
		Logger:    logger,
	})

	server := session.NewServer(session.ServerOptions{
		Config: session.Config{
			RecvSize:        cfg.Listen.RecvSize,
			IdleTimeout:     cfg.Listen.IdleTimeout.Duration,
			WriteTimeout:    cfg.Listen.WriteTimeout.Duration,
			MaxPendingBytes: cfg.Limits.MaxPendingBytes,
		},
		Deps: session.Deps{
			Cipher:     transport,
			Dispatcher: dispatcher,
			Registry:   reg,
			Notifier:   notifier,
			Collector:  collector,
			Logger:     logger,
		},
		Directory:      directory,
		MaxConnections: cfg.Listen.MaxConnections,
	})

	return &serverStack{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		registry:  reg,
		directory: directory,
		notifier:  notifier,
		journal:   jrnl,
		server:    server,
	}, nil
}

func buildAdapters(cfgs []config.AdapterConfig) ([]adapter.Adapter, error) {
	var out []adapter.Adapter
	for i, ac := range cfgs {
		a, err := buildAdapter(ac)
		if err != nil {
			for _, built := range out {
				_ = built.Close()
			}
			return nil, fmt.Errorf("adapters[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := func(def int) int {
		if ac.Retries != nil {
			return *ac.Retries
		}
		return def
	}
	switch ac.Type {
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Mode:    redis.Mode(ac.Mode),
			Timeout: ac.Timeout.Duration,
			Retries: retries(redis.DefaultRetries),
		})
	case "webhook":
		events := make([]adapter.EventType, len(ac.Events))
		for i, e := range ac.Events {
			events[i] = adapter.EventType(e)
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Secret:  ac.Secret,
			Events:  events,
			Timeout: ac.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

// run starts the metrics endpoint when configured and serves ln until ctx is done.
func (s *serverStack) run(ctx context.Context, ln net.Listener) error {
	if s.cfg.Metrics.Addr != "" {
		if err := s.startMetrics(s.cfg.Metrics.Addr); err != nil {
			_ = ln.Close()
			return err
		}
	}

	s.logger.Info("listening", map[string]any{
		"addr":       ln.Addr().String(),
		"encryption": s.collector.Snapshot().Encryption,
		"output_dir": s.cfg.Output.Dir,
	})
	return s.server.Serve(ctx, ln)
}

func (s *serverStack) startMetrics(addr string) error {
	handler, err := metrics.Handler(s.collector)
	if err != nil {
		return fmt.Errorf("metrics handler: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	s.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()
	s.metricsAddr = ln.Addr().String()
	s.logger.Info("metrics endpoint started", map[string]any{"addr": s.metricsAddr})
	return nil
}

// shutdown drains notifications, stops the metrics server, closes the
// journal and logs the final counters.
func (s *serverStack) shutdown(ctx context.Context) error {
	var errs []error
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := s.notifier.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}
	logSnapshot(s.logger, s.collector.Snapshot(), s.notifier.Dropped())
	return errors.Join(errs...)
}

func logSnapshot(logger *log.Logger, snap metrics.Snapshot, dropped int64) {
	logger.Info("server stopped", map[string]any{
		"connections_accepted": snap.ConnectionsAccepted,
		"bytes_received":       humanize.Bytes(uint64(max(snap.BytesReceived, 0))),
		"messages_received":    snap.MessagesReceived,
		"files_saved":          snap.FilesSaved,
		"file_failures":        snap.FileFailures,
		"recordings_saved":     snap.RecordingsSaved,
		"recording_failures":   snap.RecordingFailures,
		"decrypt_errors":       snap.DecryptErrors,
		"frame_errors":         snap.FrameErrors,
		"panics_recovered":     snap.PanicsRecovered,
		"events_dropped":       dropped,
	})
}

