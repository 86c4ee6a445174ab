package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/tether/log"
)

// DefaultQueueSize bounds events waiting for delivery.
const DefaultQueueSize = 256

// DefaultPublishTimeout bounds one delivery to all adapters.
const DefaultPublishTimeout = 30 * time.Second

// Notifier delivers events to adapters from a single background goroutine.
// Notify never blocks the caller; events are dropped when the queue is full.
// A nil Notifier discards everything.
type Notifier struct {
	adapters []Adapter
	logger   *log.Logger
	timeout  time.Duration

	queue chan *Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// NewNotifier starts a notifier over adapters.
// queueSize <= 0 uses DefaultQueueSize.
func NewNotifier(adapters []Adapter, queueSize int, logger *log.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.NewNop()
	}
	n := &Notifier{
		adapters: adapters,
		logger:   logger,
		timeout:  DefaultPublishTimeout,
		queue:    make(chan *Event, queueSize),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify enqueues event for delivery.
func (n *Notifier) Notify(event *Event) {
	if n == nil || event == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- event:
	default:
		n.dropped++
		n.logger.Warn("notification queue full, dropping event", map[string]any{
			"event_type": event.EventType,
			"conn_id":    event.ConnID,
			"dropped":    n.dropped,
		})
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (n *Notifier) Dropped() int64 {
	if n == nil {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.queue {
		n.deliver(event)
	}
}

func (n *Notifier) deliver(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	for _, a := range n.adapters {
		if err := a.Publish(ctx, event); err != nil {
			n.logger.Warn("notification publish failed", map[string]any{
				"event_type": event.EventType,
				"conn_id":    event.ConnID,
				"error":      err.Error(),
			})
		}
	}
}

// Close stops accepting events, delivers the queued ones, and closes every
// adapter. It returns early with ctx's error if delivery does not finish.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	select {
	case <-n.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, a := range n.adapters {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}
