// Package wire implements the agent message protocol: incremental msgpack
// framing over a byte stream, mapping of decoded values to types.Message,
// legacy text command parsing and outbound command encoding.
package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPendingBytes is the default ceiling on buffered, not yet decodable bytes (16 MiB).
const MaxPendingBytes = 16 * 1024 * 1024

// FrameErrorKind classifies framing and message shape errors.
type FrameErrorKind int

const (
	// FrameErrorDecode indicates bytes that are not valid msgpack.
	FrameErrorDecode FrameErrorKind = iota
	// FrameErrorTooLarge indicates the pending buffer exceeded its ceiling.
	FrameErrorTooLarge
	// FrameErrorShape indicates a decoded value that is not a recognizable message.
	FrameErrorShape
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorDecode:
		return "decode"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorShape:
		return "shape"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError represents a framing or message shape error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
	// Data holds the stream bytes dropped by the framer, if any.
	Data []byte
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsStreamError reports whether the error discarded buffered stream bytes,
// so the triggering input should be treated as raw text.
func (e *FrameError) IsStreamError() bool {
	return e.Kind == FrameErrorDecode || e.Kind == FrameErrorTooLarge
}

// IsStreamFrameError returns true if err is a FrameError that discarded stream bytes.
func IsStreamFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsStreamError()
	}
	return false
}

// Framer decodes a stream of concatenated msgpack values delivered in
// arbitrary fragments. It is not safe for concurrent use; each connection
// owns one.
type Framer struct {
	pending    []byte
	maxPending int
	next       boundary
}

// NewFramer creates a framer with the default pending ceiling.
func NewFramer() *Framer {
	return NewFramerWithLimit(MaxPendingBytes)
}

// NewFramerWithLimit creates a framer with a custom pending ceiling.
func NewFramerWithLimit(maxPending int) *Framer {
	if maxPending <= 0 {
		maxPending = MaxPendingBytes
	}
	return &Framer{maxPending: maxPending, next: boundary{limit: maxPending}}
}

// Feed appends p to the pending buffer.
func (f *Framer) Feed(p []byte) {
	f.pending = append(f.pending, p...)
}

// Pending returns the number of buffered bytes not yet decoded.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset drops all buffered bytes.
func (f *Framer) Reset() {
	f.pending = nil
	f.next.reset()
}

// Drain decodes every complete value in the pending buffer, in stream order.
// Trailing bytes of an incomplete value are retained for the next Feed.
//
// A value is only decoded once all of its bytes are buffered, so a large
// value fed in small pieces is walked once rather than on every Drain.
//
// Top-level values must be arrays or maps. On any error the pending buffer
// is discarded and returned in FrameError.Data, starting at the value that
// failed; values decoded before the error are still returned.
func (f *Framer) Drain() ([]any, error) {
	if len(f.pending) > f.maxPending {
		size := len(f.pending)
		return nil, f.discard(&FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("pending %d bytes exceeds maximum %d", size, f.maxPending),
		})
	}

	var out []any
	for len(f.pending) > 0 {
		n, complete, err := f.next.scan(f.pending)
		if err != nil {
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				frameErr = &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode msgpack value", Err: err}
			}
			return out, f.discard(frameErr)
		}
		if !complete {
			break
		}

		v, err := msgpack.NewDecoder(bytes.NewReader(f.pending[:n])).DecodeInterface()
		if err != nil {
			return out, f.discard(&FrameError{
				Kind: FrameErrorDecode,
				Msg:  "failed to decode msgpack value",
				Err:  err,
			})
		}

		switch v.(type) {
		case []any, map[string]any, map[any]any:
			out = append(out, v)
			f.pending = f.pending[n:]
		default:
			return out, f.discard(&FrameError{
				Kind: FrameErrorDecode,
				Msg:  fmt.Sprintf("top-level value is %T, not a container", v),
			})
		}
	}

	if len(f.pending) == 0 {
		f.pending = nil
	}
	return out, nil
}

// discard hands the undecoded bytes to err and resyncs the framer.
func (f *Framer) discard(err *FrameError) *FrameError {
	err.Data = f.pending
	f.pending = nil
	f.next.reset()
	return err
}
