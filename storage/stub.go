package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StubSink records Put calls for testing.
type StubSink struct {
	mu    sync.Mutex
	Files map[string][]byte
	Puts  []string

	// PutErr, when set, is returned from every Put.
	PutErr error
}

// NewStubSink creates an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{Files: make(map[string][]byte)}
}

// Put implements Sink by recording the call.
func (s *StubSink) Put(_ context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("stub read: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts = append(s.Puts, name)
	if s.PutErr != nil {
		return s.PutErr
	}
	s.Files[name] = data
	return nil
}

// Location implements Sink.
func (s *StubSink) Location(name string) string {
	return "stub://" + name
}

// File returns the stored bytes for name.
func (s *StubSink) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Files[name]
	return data, ok
}

// Count returns the number of stored outputs.
func (s *StubSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Files)
}

// Verify StubSink implements Sink.
var _ Sink = (*StubSink)(nil)
