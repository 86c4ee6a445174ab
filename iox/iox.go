// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"io"
	"os"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// ScopedTempDir creates a temporary directory under parent (os.TempDir when
// empty) and returns a cleanup func that removes it with all contents.
// The cleanup func is safe to call more than once.
func ScopedTempDir(parent, pattern string) (string, func(), error) {
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
