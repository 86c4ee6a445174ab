// Package storage persists reconstructed files, assembled videos and
// screenshots under the output directory.
//
// This file defines sentinel errors for classifying storage failures so
// callers can use errors.Is/errors.As rather than string matching.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Sentinel errors for storage failure classification.
var (
	// ErrPermissionDenied indicates a permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path does not exist (ENOENT).
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out or its context ended.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidName indicates an output name that is empty or escapes the output directory.
	ErrInvalidName = errors.New("invalid output name")

	// ErrUnclassified is the kind for failures matching no other class.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an underlying error with storage classification.
type StorageError struct {
	// Kind is the sentinel error for classification (e.g., ErrPermissionDenied).
	Kind error
	// Op is the operation that failed (e.g., "write", "read", "init").
	Op string
	// Path is the output name involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStorageError creates a classified storage error.
func NewStorageError(kind error, op, path string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Path: path, Err: err}
}

// WrapWriteError classifies and wraps a write error. Returns nil if err is nil.
func WrapWriteError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "write", path, err)
}

// WrapReadError classifies and wraps a read error. Returns nil if err is nil.
func WrapReadError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "read", path, err)
}

// WrapInitError classifies and wraps a store initialization error. Returns nil if err is nil.
func WrapInitError(err error, root string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "init", root, err)
}

// classifyError maps err to a sentinel, preferring typed checks over message patterns.
func classifyError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "eacces", "read-only file system"):
		return ErrPermissionDenied
	case containsAny(msg, "no such file", "does not exist", "not found", "enoent"):
		return ErrNotFound
	case containsAny(msg, "no space left", "disk full", "enospc", "quota exceeded"):
		return ErrDiskFull
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "context canceled"):
		return ErrTimeout
	default:
		return ErrUnclassified
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
