package registry

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// ConnSender serializes writes to a net.Conn so replies and broadcasts
// from different goroutines do not interleave.
type ConnSender struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// NewConnSender wraps conn. A positive timeout bounds each write.
func NewConnSender(conn net.Conn, timeout time.Duration) *ConnSender {
	return &ConnSender{conn: conn, timeout: timeout}
}

// Send writes data in full.
func (s *ConnSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
