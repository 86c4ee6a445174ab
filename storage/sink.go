package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// Sink persists named outputs.
type Sink interface {
	// Put writes r under name, replacing any existing output with that name.
	Put(ctx context.Context, name string, r io.Reader) error
	// Location returns a human-readable location for name, for logging.
	Location(name string) string
}

// SafeName reduces name to its base component and rejects names that are
// empty or refer to a directory.
func SafeName(name string) (string, error) {
	cleaned := strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(cleaned)
	switch base {
	case "", ".", "..", "/":
		return "", NewStorageError(ErrInvalidName, "validate", name, errors.New("name has no usable base component"))
	}
	return base, nil
}

// LodeSink writes outputs to a lode Store. The store is created lazily from
// its factory on first use.
type LodeSink struct {
	factory lode.StoreFactory
	root    string

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	// mu serializes the exists/delete/put sequence so overwrites do not interleave.
	mu sync.Mutex
}

// Verify LodeSink implements Sink.
var _ Sink = (*LodeSink)(nil)

// NewFSSink creates a sink rooted at a local directory, creating it if needed.
func NewFSSink(root string) (*LodeSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, WrapInitError(err, root)
	}
	return NewLodeSink(lode.NewFSFactory(root), root), nil
}

// NewLodeSink creates a sink over an arbitrary store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeSink(factory lode.StoreFactory, root string) *LodeSink {
	return &LodeSink{factory: factory, root: root}
}

func (s *LodeSink) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

// Put writes r under name. An existing output is removed first.
func (s *LodeSink) Put(ctx context.Context, name string, r io.Reader) error {
	if _, err := SafeName(name); err != nil {
		return err
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, s.root)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := store.Exists(ctx, name)
	if err != nil {
		return WrapReadError(err, name)
	}
	if exists {
		if err := store.Delete(ctx, name); err != nil {
			return WrapWriteError(fmt.Errorf("replace: %w", err), name)
		}
	}
	return WrapWriteError(store.Put(ctx, name, r), name)
}

// Get opens a stored output for reading.
func (s *LodeSink) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, WrapInitError(err, s.root)
	}
	rc, err := store.Get(ctx, name)
	if err != nil {
		return nil, WrapReadError(err, name)
	}
	return rc, nil
}

// List returns stored output names with the given prefix.
func (s *LodeSink) List(ctx context.Context, prefix string) ([]string, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, WrapInitError(err, s.root)
	}
	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, WrapReadError(err, prefix)
	}
	return names, nil
}

// Location returns the filesystem path of name when the sink has a root.
func (s *LodeSink) Location(name string) string {
	if s.root == "" {
		return name
	}
	return filepath.Join(s.root, name)
}
