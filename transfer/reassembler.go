// Package transfer reassembles chunked file uploads per connection and
// persists completed files.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/storage"
	"github.com/pithecene-io/tether/types"
)

// Default ceilings.
const (
	// DefaultMaxTransferBytes is the largest file accepted (1 GiB).
	DefaultMaxTransferBytes = 1 << 30
	// DefaultMaxChunks is the largest declared chunk count accepted.
	DefaultMaxChunks = 1 << 20
	// progressEvery controls how often chunk progress is logged.
	progressEvery = 10
)

var (
	// ErrNoTransfer is returned for chunk or end messages with no active transfer.
	ErrNoTransfer = errors.New("no active file transfer")
	// ErrLimitExceeded is returned when a transfer exceeds a configured ceiling.
	ErrLimitExceeded = errors.New("transfer limit exceeded")
	// ErrInvalidChunk is returned for negative chunk indices or counts.
	ErrInvalidChunk = errors.New("invalid chunk")
)

// MissingChunkError reports a transfer that ended with a gap.
// Nothing is written when it is returned.
type MissingChunkError struct {
	Filename string
	// Index is the first missing chunk index.
	Index    int
	Received int
	Total    int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("file %s: missing chunk %d (received %d of %d)", e.Filename, e.Index, e.Received, e.Total)
}

// LimitError reports which ceiling was exceeded.
type LimitError struct {
	What  string
	Value int64
	Max   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s %d exceeds maximum %d", e.What, e.Value, e.Max)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// Limits bounds in-memory buffering per transfer.
type Limits struct {
	MaxTransferBytes int64
	MaxChunks        int
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{MaxTransferBytes: DefaultMaxTransferBytes, MaxChunks: DefaultMaxChunks}
}

// Result describes a persisted file.
type Result struct {
	Name     string
	Location string
	Bytes    int64
	Chunks   int
}

type state struct {
	filename    string
	totalSize   int64
	totalChunks int
	chunks      map[int][]byte
	received    int64
}

// Reassembler tracks at most one in-progress transfer per connection.
// Thread-safe for concurrent access.
type Reassembler struct {
	mu        sync.Mutex
	transfers map[types.ConnID]*state

	sink   storage.Sink
	limits Limits
	logger *log.Logger
}

// New creates a reassembler that persists completed files to sink.
// Zero-valued limits fall back to the defaults.
func New(sink storage.Sink, limits Limits, logger *log.Logger) *Reassembler {
	if limits.MaxTransferBytes <= 0 {
		limits.MaxTransferBytes = DefaultMaxTransferBytes
	}
	if limits.MaxChunks <= 0 {
		limits.MaxChunks = DefaultMaxChunks
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reassembler{
		transfers: make(map[types.ConnID]*state),
		sink:      sink,
		limits:    limits,
		logger:    logger,
	}
}

// Start begins a transfer for peer, replacing any incomplete one.
func (r *Reassembler) Start(peer types.Peer, filename string, totalSize int64, totalChunks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.transfers[peer.ConnID]; ok {
		r.logger.Warn("replacing incomplete file transfer", map[string]any{
			"conn_id":  peer.ConnID,
			"filename": prev.filename,
			"received": len(prev.chunks),
			"total":    prev.totalChunks,
		})
		delete(r.transfers, peer.ConnID)
	}

	if totalChunks < 0 || totalSize < 0 {
		return fmt.Errorf("%w: size %d, chunks %d", ErrInvalidChunk, totalSize, totalChunks)
	}
	if totalChunks > r.limits.MaxChunks {
		return &LimitError{What: "chunk count", Value: int64(totalChunks), Max: int64(r.limits.MaxChunks)}
	}
	if totalSize > r.limits.MaxTransferBytes {
		return &LimitError{What: "declared size", Value: totalSize, Max: r.limits.MaxTransferBytes}
	}

	r.transfers[peer.ConnID] = &state{
		filename:    filename,
		totalSize:   totalSize,
		totalChunks: totalChunks,
		chunks:      make(map[int][]byte),
	}
	r.logger.Info("file transfer started", map[string]any{
		"conn_id":  peer.ConnID,
		"filename": filename,
		"size":     humanize.Bytes(uint64(totalSize)),
		"chunks":   totalChunks,
	})
	return nil
}

// Chunk stores data at index. Chunks may arrive in any order; a duplicate
// index replaces the earlier data.
func (r *Reassembler) Chunk(peer types.Peer, index int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.transfers[peer.ConnID]
	if !ok {
		return ErrNoTransfer
	}
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrInvalidChunk, index)
	}
	if index >= r.limits.MaxChunks {
		delete(r.transfers, peer.ConnID)
		return &LimitError{What: "chunk index", Value: int64(index), Max: int64(r.limits.MaxChunks - 1)}
	}

	received := st.received + int64(len(data))
	if prev, dup := st.chunks[index]; dup {
		received -= int64(len(prev))
	}
	if received > r.limits.MaxTransferBytes {
		delete(r.transfers, peer.ConnID)
		return &LimitError{What: "received bytes", Value: received, Max: r.limits.MaxTransferBytes}
	}

	st.chunks[index] = data
	st.received = received

	if n := len(st.chunks); n%progressEvery == 0 {
		r.logger.Info("file chunk progress", map[string]any{
			"conn_id":  peer.ConnID,
			"filename": st.filename,
			"received": n,
			"total":    st.totalChunks,
		})
	}
	return nil
}

// Finish completes the transfer for peer. Every index in [0, N) must be
// present, otherwise a MissingChunkError naming the first gap is returned
// and nothing is written. The transfer state is cleared on every outcome.
func (r *Reassembler) Finish(ctx context.Context, peer types.Peer) (Result, error) {
	r.mu.Lock()
	st, ok := r.transfers[peer.ConnID]
	delete(r.transfers, peer.ConnID)
	r.mu.Unlock()

	if !ok {
		return Result{}, ErrNoTransfer
	}

	parts := make([]io.Reader, 0, st.totalChunks)
	var total int64
	for i := 0; i < st.totalChunks; i++ {
		chunk, ok := st.chunks[i]
		if !ok {
			return Result{}, &MissingChunkError{
				Filename: st.filename,
				Index:    i,
				Received: len(st.chunks),
				Total:    st.totalChunks,
			}
		}
		parts = append(parts, bytes.NewReader(chunk))
		total += int64(len(chunk))
	}

	if extra := len(st.chunks) - st.totalChunks; extra > 0 {
		r.logger.Warn("ignoring chunks beyond declared count", map[string]any{
			"conn_id":  peer.ConnID,
			"filename": st.filename,
			"extra":    extra,
		})
	}
	if st.totalSize > 0 && total != st.totalSize {
		r.logger.Warn("reassembled size differs from declared size", map[string]any{
			"conn_id":  peer.ConnID,
			"filename": st.filename,
			"declared": st.totalSize,
			"actual":   total,
		})
	}

	res, err := r.persist(ctx, peer, st.filename, io.MultiReader(parts...), total)
	res.Chunks = st.totalChunks
	return res, err
}

// Save persists a single-shot upload under the same naming as chunked transfers.
func (r *Reassembler) Save(ctx context.Context, peer types.Peer, filename string, data []byte) (Result, error) {
	if int64(len(data)) > r.limits.MaxTransferBytes {
		return Result{}, &LimitError{What: "file size", Value: int64(len(data)), Max: r.limits.MaxTransferBytes}
	}
	return r.persist(ctx, peer, filename, bytes.NewReader(data), int64(len(data)))
}

func (r *Reassembler) persist(ctx context.Context, peer types.Peer, filename string, body io.Reader, size int64) (Result, error) {
	base, err := storage.SafeName(filename)
	if err != nil {
		return Result{}, err
	}
	name := OutputName(peer, base)
	if err := r.sink.Put(ctx, name, body); err != nil {
		return Result{}, fmt.Errorf("save %s: %w", name, err)
	}

	r.logger.Info("file saved", map[string]any{
		"conn_id":  peer.ConnID,
		"path":     r.sink.Location(name),
		"size":     humanize.Bytes(uint64(size)),
		"size_raw": size,
	})
	return Result{Name: name, Location: r.sink.Location(name), Bytes: size}, nil
}

// Drop discards any in-progress transfer for peer. It reports whether one existed.
func (r *Reassembler) Drop(peer types.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.transfers[peer.ConnID]
	delete(r.transfers, peer.ConnID)
	return ok
}

// Active reports whether peer has an in-progress transfer.
func (r *Reassembler) Active(peer types.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.transfers[peer.ConnID]
	return ok
}

// OutputName returns the persisted name "<peer-ip>_<base>".
func OutputName(peer types.Peer, base string) string {
	return peer.Host() + "_" + base
}
