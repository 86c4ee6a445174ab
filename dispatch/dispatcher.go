// Package dispatch routes decoded agent messages to their handlers.
//
// Dispatch is the single place where the message union is switched on.
// Handler errors are logged with their kind and counted; they never escape
// a dispatch cycle, so one bad message cannot end a session.
package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/cipher"
	"github.com/pithecene-io/tether/journal"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/recording"
	"github.com/pithecene-io/tether/storage"
	"github.com/pithecene-io/tether/transfer"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// ErrBadPayload is returned when a base64 payload cannot be decoded.
var ErrBadPayload = errors.New("undecodable payload")

// Options wires a Dispatcher to its collaborators.
// Journal, Notifier and Collector may be nil.
type Options struct {
	Files      *transfer.Reassembler
	Recordings *recording.Assembler
	Journal    *journal.Journal
	Notifier   *adapter.Notifier
	Collector  *metrics.Collector
	Logger     *log.Logger
	// Now overrides the clock used for screenshot names; tests only.
	Now func() time.Time
}

// Dispatcher applies messages to per-connection transfer and recording state.
// Safe for concurrent use by many sessions.
type Dispatcher struct {
	files      *transfer.Reassembler
	recordings *recording.Assembler
	journal    *journal.Journal
	notifier   *adapter.Notifier
	collector  *metrics.Collector
	logger     *log.Logger
	now        func() time.Time
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		files:      opts.Files,
		recordings: opts.Recordings,
		journal:    opts.Journal,
		notifier:   opts.Notifier,
		collector:  opts.Collector,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Dispatch handles one message from peer. Errors are logged and counted here.
func (d *Dispatcher) Dispatch(ctx context.Context, peer types.Peer, msg types.Message) {
	kind := Kind(msg)
	d.collector.IncMessage(kind)

	if err := d.handle(ctx, peer, msg); err != nil {
		d.fail(peer, kind, err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, peer types.Peer, msg types.Message) error {
	switch m := msg.(type) {
	case types.TextMessage:
		return d.text(peer, m)
	case types.RecordingStart:
		d.recordings.Start(peer, m.FPS, m.Width, m.Height, m.Duration)
		return nil
	case types.ScreenFrame:
		return d.recordings.Frame(peer, m.FrameNumber, m.TotalFrames, m.FrameData)
	case types.RecordingEnd:
		return d.recordingEnd(ctx, peer)
	case types.FileTransfer:
		return d.fileTransfer(ctx, peer, m)
	case types.FileChunkStart:
		return d.files.Start(peer, m.Filename, m.TotalSize, m.TotalChunks)
	case types.FileChunkData:
		return d.fileChunk(peer, m)
	case types.FileChunkEnd:
		return d.fileEnd(ctx, peer)
	case types.Screenshot:
		return d.screenshot(ctx, peer, m)
	case types.Unrecognized:
		d.collector.IncUnknownMessage()
		d.logger.Warn("unknown message type", map[string]any{
			"conn_id": peer.ConnID,
			"peer":    peer.Addr,
			"type":    m.Type,
		})
		return nil
	default:
		return fmt.Errorf("unhandled message %T", msg)
	}
}

// DispatchRaw handles bytes that could not be decrypted or framed. They are
// logged as text when valid UTF-8 and never reach transfer or recording state.
func (d *Dispatcher) DispatchRaw(peer types.Peer, data []byte) {
	d.collector.IncRawMessage()
	if len(data) == 0 {
		return
	}
	if !utf8.Valid(data) {
		d.logger.Warn("could not decode raw message", map[string]any{
			"conn_id": peer.ConnID,
			"peer":    peer.Addr,
			"size":    len(data),
		})
		return
	}
	d.logger.Info("raw message", map[string]any{
		"conn_id": peer.ConnID,
		"peer":    peer.Addr,
		"content": strings.TrimSpace(string(data)),
		"size":    len(data),
	})
}

// Drop discards any unfinished transfer or recording for peer.
// Called when its connection closes.
func (d *Dispatcher) Drop(peer types.Peer) {
	if d.files.Drop(peer) {
		d.collector.IncFileFailure()
		d.logger.Warn("discarding incomplete file transfer", map[string]any{"conn_id": peer.ConnID})
	}
	if d.recordings.Drop(peer) {
		d.collector.IncRecordingFailure()
		d.logger.Warn("discarding unfinished screen recording", map[string]any{"conn_id": peer.ConnID})
	}
}

func (d *Dispatcher) text(peer types.Peer, m types.TextMessage) error {
	d.logger.Info("message received", map[string]any{
		"conn_id": peer.ConnID,
		"peer":    peer.Addr,
		"content": m.Content,
	})
	if err := d.journal.Append(peer.Addr, m.Content, len(m.Content)); err != nil {
		return storage.WrapWriteError(err, "journal")
	}
	return nil
}

func (d *Dispatcher) recordingEnd(ctx context.Context, peer types.Peer) error {
	res, err := d.recordings.End(ctx, peer)
	if err != nil {
		if !errors.Is(err, recording.ErrNoSession) {
			d.collector.IncRecordingFailure()
		}
		return err
	}
	d.collector.IncRecordingSaved()

	e := adapter.NewEvent(adapter.EventRecordingCompleted, peer)
	e.SessionID = res.SessionID
	e.Name = res.Name
	e.Location = res.Location
	e.Frames = res.Frames
	d.notifier.Notify(e)
	return nil
}

func (d *Dispatcher) fileTransfer(ctx context.Context, peer types.Peer, m types.FileTransfer) error {
	data, err := decodePayload(m.FileData)
	if err != nil {
		d.collector.IncFileFailure()
		return fmt.Errorf("file %q: %w", m.Filename, err)
	}
	res, err := d.files.Save(ctx, peer, m.Filename, data)
	return d.fileSaved(peer, res, err)
}

func (d *Dispatcher) fileChunk(peer types.Peer, m types.FileChunkData) error {
	data, err := decodePayload(m.ChunkData)
	if err != nil {
		// Dropped here; Finish reports it as a missing chunk.
		return fmt.Errorf("chunk %d: %w", m.ChunkNumber, err)
	}
	return d.files.Chunk(peer, m.ChunkNumber, data)
}

func (d *Dispatcher) fileEnd(ctx context.Context, peer types.Peer) error {
	res, err := d.files.Finish(ctx, peer)
	if errors.Is(err, transfer.ErrNoTransfer) {
		return err
	}
	var missing *transfer.MissingChunkError
	if errors.As(err, &missing) {
		d.collector.IncMissingChunk()
	}
	return d.fileSaved(peer, res, err)
}

func (d *Dispatcher) screenshot(ctx context.Context, peer types.Peer, m types.Screenshot) error {
	data, err := decodePayload(m.Data)
	if err != nil {
		d.collector.IncFileFailure()
		return fmt.Errorf("screenshot: %w", err)
	}
	name := fmt.Sprintf("screenshot_%d.%s", d.now().UnixNano(), recording.ImageExt(data))
	res, err := d.files.Save(ctx, peer, name, data)
	return d.fileSaved(peer, res, err)
}

func (d *Dispatcher) fileSaved(peer types.Peer, res transfer.Result, err error) error {
	if err != nil {
		d.collector.IncFileFailure()
		return err
	}
	d.collector.IncFileSaved()

	e := adapter.NewEvent(adapter.EventFileReceived, peer)
	e.Name = res.Name
	e.Location = res.Location
	e.Bytes = res.Bytes
	d.notifier.Notify(e)
	return nil
}

// fail logs err with its kind and bumps the matching counters.
func (d *Dispatcher) fail(peer types.Peer, msgKind string, err error) {
	kind := ErrorKind(err)
	switch kind {
	case "limit":
		d.collector.IncLimitRejection()
	case "io":
		d.collector.IncStorageFailure()
	}

	fields := map[string]any{
		"conn_id":    peer.ConnID,
		"peer":       peer.Addr,
		"message":    msgKind,
		"error_kind": kind,
		"error":      err.Error(),
	}
	if kind == "protocol" {
		d.logger.Warn("message out of sequence", fields)
		return
	}
	d.logger.Error("message handling failed", fields)
}

// Kind names a message for logs and metrics.
func Kind(msg types.Message) string {
	switch m := msg.(type) {
	case types.TextMessage:
		return "text"
	case types.RecordingStart:
		return string(types.MessageTypeRecordingStart)
	case types.ScreenFrame:
		return string(types.MessageTypeScreenFrame)
	case types.RecordingEnd:
		return string(types.MessageTypeRecordingEnd)
	case types.FileTransfer:
		return string(types.MessageTypeFileTransfer)
	case types.FileChunkStart:
		return legacyKind(m.Legacy, "file_chunk_start")
	case types.FileChunkData:
		return legacyKind(m.Legacy, "file_chunk_data")
	case types.FileChunkEnd:
		return legacyKind(m.Legacy, "file_chunk_end")
	case types.Screenshot:
		return string(types.MessageTypeScreenshot)
	case types.Unrecognized:
		return "unknown"
	default:
		return "unknown"
	}
}

func legacyKind(legacy bool, kind string) string {
	if legacy {
		return "legacy_" + kind
	}
	return kind
}

// ErrorKind classifies a handler or session error for logs.
func ErrorKind(err error) string {
	var (
		decryptErr  *cipher.DecryptionError
		frameErr    *wire.FrameError
		missingErr  *transfer.MissingChunkError
		assemblyErr *recording.AssemblyError
		storageErr  *storage.StorageError
	)
	switch {
	case errors.As(err, &decryptErr):
		return "decryption"
	case errors.As(err, &frameErr):
		return "frame"
	case errors.Is(err, transfer.ErrLimitExceeded), errors.Is(err, recording.ErrLimitExceeded):
		return "limit"
	case errors.As(err, &missingErr):
		return "missing_chunk"
	case errors.Is(err, ErrBadPayload), errors.Is(err, transfer.ErrInvalidChunk),
		errors.Is(err, recording.ErrInvalidFrame), errors.Is(err, storage.ErrInvalidName):
		return "invalid"
	case errors.As(err, &storageErr):
		return "io"
	case errors.As(err, &assemblyErr):
		return "assembly"
	case errors.Is(err, transfer.ErrNoTransfer), errors.Is(err, recording.ErrNoSession):
		return "protocol"
	default:
		return "internal"
	}
}

func decodePayload(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return data, nil
}
