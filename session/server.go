package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/registry"
	"github.com/pithecene-io/tether/types"
)

// acceptBackoff is the pause after a transient Accept failure.
const acceptBackoff = 50 * time.Millisecond

// ServerOptions configures a Server.
type ServerOptions struct {
	Config Config
	Deps   Deps
	// Directory persists every agent seen. Optional.
	Directory *registry.Directory
	// MaxConnections rejects connections beyond this many live sessions.
	// Zero means unlimited.
	MaxConnections int
}

// Server accepts agent connections and runs one Session per connection.
type Server struct {
	cfg       Config
	deps      Deps
	directory *registry.Directory
	maxConns  int
	logger    *log.Logger

	mu    sync.Mutex
	conns map[types.ConnID]net.Conn
	wg    sync.WaitGroup
}

// NewServer creates a server. Deps.Dispatcher and Deps.Registry are required.
func NewServer(opts ServerOptions) *Server {
	if opts.Deps.Logger == nil {
		opts.Deps.Logger = log.NewNop()
	}
	return &Server{
		cfg:       opts.Config,
		deps:      opts.Deps,
		directory: opts.Directory,
		maxConns:  opts.MaxConnections,
		logger:    opts.Deps.Logger,
		conns:     make(map[types.ConnID]net.Conn),
	}
}

// Serve accepts on ln until ctx is canceled or ln fails. On cancellation it
// closes ln, interrupts every blocked read, and waits for all sessions to
// finish their current dispatch cycle and close. It returns nil after a
// cancellation and the Accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.interruptAll()
	})
	defer stop()

	s.logger.Info("listening", map[string]any{"addr": ln.Addr().String()})

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = err
				break
			}
			s.logger.Warn("accept failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
			case <-time.After(acceptBackoff):
			}
			continue
		}
		s.accept(ctx, conn)
	}

	_ = ln.Close()
	s.wg.Wait()
	s.logger.Info("listener stopped", nil)
	return serveErr
}

// Active returns the number of live sessions.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) accept(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	if s.maxConns > 0 && s.Active() >= s.maxConns {
		s.logger.Warn("connection limit reached, rejecting", map[string]any{
			"peer":            addr,
			"max_connections": s.maxConns,
		})
		_ = conn.Close()
		return
	}

	agent := s.deps.Registry.Register(addr, registry.NewConnSender(conn, s.cfg.WriteTimeout))
	peer := agent.Peer()
	s.deps.Collector.IncConnectionAccepted()

	if s.directory != nil {
		if _, err := s.directory.Record(agent.Record()); err != nil {
			s.logger.Warn("failed to record agent", map[string]any{
				"conn_id": peer.ConnID,
				"path":    s.directory.Path(),
				"error":   err.Error(),
			})
		}
	}

	e := adapter.NewEvent(adapter.EventAgentConnected, peer)
	e.Roles = agent.Roles
	s.deps.Notifier.Notify(e)

	s.track(peer.ConnID, conn)

	sess := New(conn, peer, s.cfg, s.deps)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(peer.ConnID)
		if err := sess.Run(ctx); err != nil {
			s.logger.Warn("session ended with error", map[string]any{
				"conn_id": peer.ConnID,
				"error":   err.Error(),
			})
		}
	}()
}

func (s *Server) track(id types.ConnID, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = conn
}

func (s *Server) untrack(id types.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// interruptAll unblocks every pending read so sessions observe shutdown.
func (s *Server) interruptAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, conn := range s.conns {
		_ = conn.SetReadDeadline(now)
	}
}
