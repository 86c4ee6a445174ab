package iox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestScopedTempDir(t *testing.T) {
	parent := t.TempDir()
	dir, cleanup, err := ScopedTempDir(parent, "scoped-*")
	if err != nil {
		t.Fatalf("ScopedTempDir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frame0000.png"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cleanup()
	cleanup()

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Stat after cleanup = %v, want not-exist", err)
	}
}

func TestScopedTempDir_BadParent(t *testing.T) {
	_, cleanup, err := ScopedTempDir(filepath.Join(t.TempDir(), "missing"), "scoped-*")
	if err == nil {
		t.Fatal("expected error for missing parent")
	}
	cleanup()
}
