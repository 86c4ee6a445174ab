// Package recording buffers streamed screen frames per connection and
// renders each finished session into a video with an external encoder.
package recording

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/pithecene-io/tether/iox"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/storage"
	"github.com/pithecene-io/tether/types"
)

// Defaults.
const (
	DefaultFPS = 30
	// DefaultMaxFrames allows one hour at 30 fps.
	DefaultMaxFrames = 108_000
	// DefaultMaxRecordingBytes bounds buffered encoded frame data (2 GiB).
	DefaultMaxRecordingBytes = 2 << 30

	progressEvery = 30
)

var (
	// ErrNoSession is returned for frame or end messages with no active session.
	ErrNoSession = errors.New("no active recording session")
	// ErrNoFrames is returned when a session ends without any usable frame.
	ErrNoFrames = errors.New("recording has no usable frames")
	// ErrLimitExceeded is returned when a session exceeds a configured ceiling.
	ErrLimitExceeded = errors.New("recording limit exceeded")
	// ErrInvalidFrame is returned for negative frame numbers.
	ErrInvalidFrame = errors.New("invalid frame number")
)

// AssemblyError reports a session that could not be rendered.
type AssemblyError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("recording %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// Limits bounds in-memory buffering per session.
type Limits struct {
	MaxFrames         int
	MaxRecordingBytes int64
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{MaxFrames: DefaultMaxFrames, MaxRecordingBytes: DefaultMaxRecordingBytes}
}

// Result describes a rendered video.
type Result struct {
	SessionID string
	Name      string
	Location  string
	// Frames is the number of frames handed to the encoder.
	Frames int
	// Skipped counts buffered frames that failed to decode.
	Skipped int
	// Missing counts frame numbers below the declared total that never arrived.
	Missing int
}

type session struct {
	id          string
	fps         int
	width       int
	height      int
	duration    int
	frames      map[int]string
	totalFrames int
	received    int
	bytes       int64
}

// Options configures an Assembler.
type Options struct {
	Sink    storage.Sink
	Encoder Encoder
	Limits  Limits
	// TempDir is the parent for per-session scratch directories (os.TempDir when empty).
	TempDir string
	Logger  *log.Logger
}

// Assembler tracks at most one recording session per connection.
// Thread-safe for concurrent access.
type Assembler struct {
	mu       sync.Mutex
	sessions map[types.ConnID]*session

	sink    storage.Sink
	encoder Encoder
	limits  Limits
	tempDir string
	logger  *log.Logger
}

// NewAssembler creates an assembler. A nil encoder defaults to FFmpeg.
func NewAssembler(opts Options) *Assembler {
	if opts.Encoder == nil {
		opts.Encoder = FFmpeg{}
	}
	if opts.Limits.MaxFrames <= 0 {
		opts.Limits.MaxFrames = DefaultMaxFrames
	}
	if opts.Limits.MaxRecordingBytes <= 0 {
		opts.Limits.MaxRecordingBytes = DefaultMaxRecordingBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Assembler{
		sessions: make(map[types.ConnID]*session),
		sink:     opts.Sink,
		encoder:  opts.Encoder,
		limits:   opts.Limits,
		tempDir:  opts.TempDir,
		logger:   opts.Logger,
	}
}

// Start opens a session for peer and returns its id. Any prior session for
// the peer is discarded. Non-positive fps defaults to DefaultFPS.
func (a *Assembler) Start(peer types.Peer, fps, width, height, duration int) string {
	if fps <= 0 {
		fps = DefaultFPS
	}
	s := &session{
		id:       ulid.Make().String(),
		fps:      fps,
		width:    width,
		height:   height,
		duration: duration,
		frames:   make(map[int]string),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.sessions[peer.ConnID]; ok {
		a.logger.Warn("replacing unfinished recording session", map[string]any{
			"conn_id":    peer.ConnID,
			"session_id": prev.id,
			"frames":     len(prev.frames),
		})
	}
	a.sessions[peer.ConnID] = s

	a.logger.Info("screen recording started", map[string]any{
		"conn_id":    peer.ConnID,
		"session_id": s.id,
		"fps":        fps,
		"width":      width,
		"height":     height,
		"duration":   duration,
	})
	return s.id
}

// Frame buffers a base64 frame payload under number. A duplicate number
// replaces the earlier payload.
func (a *Assembler) Frame(peer types.Peer, number, total int, payload string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[peer.ConnID]
	if !ok {
		return ErrNoSession
	}
	if number < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFrame, number)
	}

	size := s.bytes + int64(len(payload))
	prev, dup := s.frames[number]
	if dup {
		size -= int64(len(prev))
	}
	if !dup && len(s.frames) >= a.limits.MaxFrames {
		delete(a.sessions, peer.ConnID)
		return fmt.Errorf("%w: more than %d frames", ErrLimitExceeded, a.limits.MaxFrames)
	}
	if size > a.limits.MaxRecordingBytes {
		delete(a.sessions, peer.ConnID)
		return fmt.Errorf("%w: %s buffered exceeds %s", ErrLimitExceeded,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(a.limits.MaxRecordingBytes)))
	}

	s.frames[number] = payload
	s.bytes = size
	s.received++
	if total > 0 {
		s.totalFrames = total
	}

	if number%progressEvery == 0 {
		a.logger.Debug("screen frame progress", map[string]any{
			"conn_id":    peer.ConnID,
			"session_id": s.id,
			"frame":      number,
			"total":      s.totalFrames,
		})
	}
	return nil
}

// End renders the session for peer into a video and persists it. Frames are
// written in ascending frame-number order and renumbered contiguously, so
// missing numbers shorten the video instead of failing. The scratch
// directory is removed on every path.
func (a *Assembler) End(ctx context.Context, peer types.Peer) (Result, error) {
	a.mu.Lock()
	s, ok := a.sessions[peer.ConnID]
	delete(a.sessions, peer.ConnID)
	a.mu.Unlock()

	if !ok {
		return Result{}, ErrNoSession
	}
	res := Result{SessionID: s.id}
	if len(s.frames) == 0 {
		return res, &AssemblyError{SessionID: s.id, Op: "collect", Err: ErrNoFrames}
	}

	dir, cleanup, err := iox.ScopedTempDir(a.tempDir, "tether-rec-*")
	if err != nil {
		return res, &AssemblyError{SessionID: s.id, Op: "tempdir", Err: err}
	}
	defer cleanup()

	numbers := make([]int, 0, len(s.frames))
	for n := range s.frames {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	ext := ""
	for _, n := range numbers {
		data, err := base64.StdEncoding.DecodeString(s.frames[n])
		if err != nil {
			res.Skipped++
			a.logger.Warn("skipping undecodable frame", map[string]any{
				"conn_id":    peer.ConnID,
				"session_id": s.id,
				"frame":      n,
				"error":      err.Error(),
			})
			continue
		}
		if ext == "" {
			ext = ImageExt(data)
		}
		path := filepath.Join(dir, fmt.Sprintf("frame%04d.%s", res.Frames, ext))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return res, &AssemblyError{SessionID: s.id, Op: "write frame", Err: err}
		}
		res.Frames++
	}
	if res.Frames == 0 {
		return res, &AssemblyError{SessionID: s.id, Op: "decode", Err: ErrNoFrames}
	}

	expected := max(s.totalFrames, numbers[len(numbers)-1]+1)
	res.Missing = expected - len(numbers)
	if res.Missing > 0 {
		a.logger.Warn("recording has missing frames", map[string]any{
			"conn_id":    peer.ConnID,
			"session_id": s.id,
			"missing":    res.Missing,
			"expected":   expected,
		})
	}

	out := filepath.Join(dir, "recording.mp4")
	req := EncodeRequest{
		Pattern: filepath.Join(dir, "frame%04d."+ext),
		FPS:     s.fps,
		Output:  out,
		Frames:  res.Frames,
	}
	if err := a.encoder.Encode(ctx, req); err != nil {
		return res, &AssemblyError{SessionID: s.id, Op: "encode", Err: err}
	}

	f, err := os.Open(out)
	if err != nil {
		return res, &AssemblyError{SessionID: s.id, Op: "open output", Err: err}
	}
	defer iox.DiscardClose(f)

	res.Name = OutputName(peer, s.id)
	if err := a.sink.Put(ctx, res.Name, f); err != nil {
		return res, &AssemblyError{SessionID: s.id, Op: "save", Err: err}
	}
	res.Location = a.sink.Location(res.Name)

	a.logger.Info("screen recording saved", map[string]any{
		"conn_id":    peer.ConnID,
		"session_id": s.id,
		"path":       res.Location,
		"frames":     res.Frames,
		"received":   s.received,
		"fps":        s.fps,
		"resolution": fmt.Sprintf("%dx%d", s.width, s.height),
		"duration":   s.duration,
	})
	return res, nil
}

// Drop discards any session for peer. It reports whether one existed.
func (a *Assembler) Drop(peer types.Peer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[peer.ConnID]
	delete(a.sessions, peer.ConnID)
	return ok
}

// Active reports whether peer has an open session.
func (a *Assembler) Active(peer types.Peer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[peer.ConnID]
	return ok
}

// OutputName returns the persisted video name for a session.
func OutputName(peer types.Peer, sessionID string) string {
	return fmt.Sprintf("screen_recording_%s_%s.mp4", peer.Host(), sessionID)
}

// ImageExt picks a file extension from the image's magic bytes, defaulting to png.
func ImageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
