// Package redis publishes server events to Redis.
//
// Events are JSON encoded and either PUBLISHed to a pub/sub channel or
// appended to a stream with XADD. Failures are retried with backoff.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/tether/adapter"
)

// DefaultChannel is the default pub/sub channel or stream key.
const DefaultChannel = "tether:events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultStreamMaxLen caps stream length in stream mode (approximate trim).
const DefaultStreamMaxLen = 10000

// Mode selects how events are delivered.
type Mode string

const (
	// ModePublish sends events with PUBLISH; only live subscribers see them.
	ModePublish Mode = "publish"
	// ModeStream appends events to a stream with XADD.
	ModeStream Mode = "stream"
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel or stream key (default: tether:events).
	Channel string
	// Mode is publish or stream (default publish).
	Mode Mode
	// StreamMaxLen caps the stream in stream mode (default 10000).
	StreamMaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter delivers events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePublish
	case ModePublish, ModeStream:
	default:
		return nil, fmt.Errorf("redis adapter: unknown mode %q", cfg.Mode)
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish delivers the event, retrying with backoff on failure.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.send(sendCtx, event, body)
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, event *adapter.Event, body []byte) error {
	if a.config.Mode == ModeStream {
		return a.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: a.config.Channel,
			MaxLen: a.config.StreamMaxLen,
			Approx: true,
			Values: map[string]any{
				"event_type": string(event.EventType),
				"payload":    body,
			},
		}).Err()
	}
	return a.client.Publish(ctx, a.config.Channel, body).Err()
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
