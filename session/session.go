// Package session runs the per-connection protocol engine.
//
// A Session owns one agent connection: it reads raw bytes, decrypts them
// through a cipher.Stream, frames msgpack values, parses them into messages
// and hands each to the dispatcher. Server accepts connections and runs one
// Session per connection in its own goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/cipher"
	"github.com/pithecene-io/tether/dispatch"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/registry"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// DefaultRecvSize is the read buffer size per connection.
const DefaultRecvSize = 1024

// State is a session lifecycle state.
type State int32

const (
	// StateConnected is the state between accept and the first read.
	StateConnected State = iota
	// StateReading is the steady state.
	StateReading
	// StateClosing is entered on EOF, a socket error or shutdown.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnectionError is a socket-level failure. It ends only its own session.
type ConnectionError struct {
	ConnID types.ConnID
	Addr   string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s (%s): %s: %v", e.ConnID, e.Addr, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Config holds per-connection tunables.
type Config struct {
	// RecvSize is the read buffer size (default 1024).
	RecvSize int
	// IdleTimeout closes a connection with no inbound data for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// WriteTimeout bounds each outbound write to the agent. Zero disables it.
	WriteTimeout time.Duration
	// MaxPendingBytes bounds undecoded framer input (default wire.MaxPendingBytes).
	MaxPendingBytes int
}

// Deps are the shared collaborators every session uses.
// Notifier, Collector and Logger may be nil.
type Deps struct {
	Cipher     cipher.Cipher
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	Notifier   *adapter.Notifier
	Collector  *metrics.Collector
	Logger     *log.Logger
}

// Session is the protocol engine for one connection.
type Session struct {
	conn   net.Conn
	peer   types.Peer
	cfg    Config
	deps   Deps
	logger *log.Logger

	stream *cipher.Stream
	framer *wire.Framer
	state  atomic.Int32
}

// New creates a session for an accepted, registered connection.
func New(conn net.Conn, peer types.Peer, cfg Config, deps Deps) *Session {
	if cfg.RecvSize <= 0 {
		cfg.RecvSize = DefaultRecvSize
	}
	if cfg.MaxPendingBytes <= 0 {
		cfg.MaxPendingBytes = wire.MaxPendingBytes
	}
	if deps.Cipher == nil {
		deps.Cipher = cipher.Identity{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	return &Session{
		conn: conn,
		peer: peer,
		cfg:  cfg,
		deps: deps,
		logger: deps.Logger.With(map[string]any{
			"conn_id": peer.ConnID,
			"peer":    peer.Addr,
		}),
		stream: cipher.NewStream(deps.Cipher),
		framer: wire.NewFramerWithLimit(cfg.MaxPendingBytes),
	}
}

// Peer returns the connection's identity.
func (s *Session) Peer() types.Peer { return s.peer }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run reads until EOF, a socket error, idle timeout, or ctx cancellation,
// then closes the session. It returns a *ConnectionError for socket
// failures and nil for orderly ends.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	s.setState(StateReading)
	s.logger.Info("agent connected", nil)

	buf := make([]byte, s.cfg.RecvSize)
	for {
		if s.cfg.IdleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				return s.readEnded(ctx, "set deadline", err)
			}
		}
		// Checked after arming the idle deadline so a shutdown interrupt
		// issued after this point is never overwritten.
		if ctx.Err() != nil {
			s.setState(StateClosing)
			return nil
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			s.process(ctx, buf[:n])
		}
		if err != nil {
			return s.readEnded(ctx, "read", err)
		}
	}
}

// readEnded moves to Closing and decides whether err is worth reporting.
func (s *Session) readEnded(ctx context.Context, op string, err error) error {
	s.setState(StateClosing)
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.logger.Info("idle timeout", map[string]any{"idle_timeout": s.cfg.IdleTimeout.String()})
		return nil
	case errors.Is(err, net.ErrClosed):
		return nil
	}
	return &ConnectionError{ConnID: s.peer.ConnID, Addr: s.peer.Addr, Op: op, Err: err}
}

// process runs one dispatch cycle over a read. A panic is recovered so the
// session keeps reading. Handlers run under a context detached from
// cancellation: a shutdown stops the read loop but never aborts a cycle
// that has already started.
func (s *Session) process(ctx context.Context, data []byte) {
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			s.deps.Collector.IncPanicRecovered()
			s.framer.Reset()
			s.logger.Error("recovered panic in dispatch cycle", map[string]any{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
	}()

	s.deps.Collector.AddBytesReceived(len(data))

	plain, err := s.stream.Feed(data)
	if err != nil {
		s.deps.Collector.IncDecryptError()
		s.logger.Warn("dropping undecryptable data", map[string]any{
			"error_kind": dispatch.ErrorKind(err),
			"error":      err.Error(),
			"size":       len(data),
		})
		s.deps.Dispatcher.DispatchRaw(s.peer, data)
	}
	if len(plain) == 0 {
		return
	}

	s.framer.Feed(plain)
	values, err := s.framer.Drain()
	for _, v := range values {
		msg, perr := wire.Parse(v)
		if perr != nil {
			s.deps.Collector.IncFrameError()
			s.logger.Warn("dropping malformed message", map[string]any{
				"error_kind": dispatch.ErrorKind(perr),
				"error":      perr.Error(),
			})
			continue
		}
		s.deps.Dispatcher.Dispatch(ctx, s.peer, msg)
	}
	if err != nil {
		s.deps.Collector.IncFrameError()
		s.logger.Debug("framing failed, falling back to raw text", map[string]any{
			"error": err.Error(),
		})
		var frameErr *wire.FrameError
		if errors.As(err, &frameErr) && frameErr.IsStreamError() {
			s.deps.Dispatcher.DispatchRaw(s.peer, frameErr.Data)
		}
	}
}

// close releases everything the connection owns.
func (s *Session) close() {
	s.setState(StateClosing)
	s.deps.Dispatcher.Drop(s.peer)
	s.deps.Registry.Remove(s.peer.ConnID)
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("close failed", map[string]any{"error": err.Error()})
	}
	s.deps.Notifier.Notify(adapter.NewEvent(adapter.EventAgentDisconnected, s.peer))
	s.deps.Collector.IncConnectionClosed()
	s.setState(StateClosed)
	s.logger.Info("connection closed", nil)
}
