// Package metrics accumulates per-process server counters.
//
// The Collector is a leaf package with no internal dependencies. Exporter
// publishes its Snapshot in Prometheus exposition format.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Connections
	ConnectionsAccepted int64
	ConnectionsClosed   int64
	PanicsRecovered     int64

	// Inbound traffic
	BytesReceived    int64
	MessagesReceived int64
	MessagesByType   map[string]int64
	RawMessages      int64
	UnknownMessages  int64
	DecryptErrors    int64
	FrameErrors      int64

	// Outputs
	FilesSaved        int64
	FileFailures      int64
	MissingChunks     int64
	RecordingsSaved   int64
	RecordingFailures int64
	LimitRejections   int64
	StorageFailures   int64

	// Dimensions (informational, set at construction)
	Encryption     string
	StorageBackend string
}

// ActiveConnections returns accepted minus closed connections.
func (s Snapshot) ActiveConnections() int64 {
	return s.ConnectionsAccepted - s.ConnectionsClosed
}

// Collector accumulates counters for the server process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectionsAccepted int64
	connectionsClosed   int64
	panicsRecovered     int64

	bytesReceived    int64
	messagesReceived int64
	messagesByType   map[string]int64
	rawMessages      int64
	unknownMessages  int64
	decryptErrors    int64
	frameErrors      int64

	filesSaved        int64
	fileFailures      int64
	missingChunks     int64
	recordingsSaved   int64
	recordingFailures int64
	limitRejections   int64
	storageFailures   int64

	encryption     string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(encryption, storageBackend string) *Collector {
	return &Collector{
		messagesByType: make(map[string]int64),
		encryption:     encryption,
		storageBackend: storageBackend,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Connections ---

// IncConnectionAccepted records an accepted connection.
func (c *Collector) IncConnectionAccepted() {
	if c == nil {
		return
	}
	c.add(&c.connectionsAccepted, 1)
}

// IncConnectionClosed records a closed connection.
func (c *Collector) IncConnectionClosed() {
	if c == nil {
		return
	}
	c.add(&c.connectionsClosed, 1)
}

// IncPanicRecovered records a dispatch cycle that panicked and was recovered.
func (c *Collector) IncPanicRecovered() {
	if c == nil {
		return
	}
	c.add(&c.panicsRecovered, 1)
}

// --- Inbound traffic ---

// AddBytesReceived records n bytes read from agents.
func (c *Collector) AddBytesReceived(n int) {
	if c == nil {
		return
	}
	c.add(&c.bytesReceived, int64(n))
}

// IncMessage records one decoded message of the given kind.
func (c *Collector) IncMessage(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesReceived++
	c.messagesByType[kind]++
	c.mu.Unlock()
}

// IncRawMessage records input handled by the raw-text fallback.
func (c *Collector) IncRawMessage() {
	if c == nil {
		return
	}
	c.add(&c.rawMessages, 1)
}

// IncUnknownMessage records a structured message with an unrecognized type.
func (c *Collector) IncUnknownMessage() {
	if c == nil {
		return
	}
	c.add(&c.unknownMessages, 1)
}

// IncDecryptError records a unit that failed to decrypt.
func (c *Collector) IncDecryptError() {
	if c == nil {
		return
	}
	c.add(&c.decryptErrors, 1)
}

// IncFrameError records a framing or message shape error.
func (c *Collector) IncFrameError() {
	if c == nil {
		return
	}
	c.add(&c.frameErrors, 1)
}

// --- Outputs ---

// IncFileSaved records a persisted file.
func (c *Collector) IncFileSaved() {
	if c == nil {
		return
	}
	c.add(&c.filesSaved, 1)
}

// IncFileFailure records a file transfer that did not produce output.
func (c *Collector) IncFileFailure() {
	if c == nil {
		return
	}
	c.add(&c.fileFailures, 1)
}

// IncMissingChunk records a transfer rejected for a missing chunk.
func (c *Collector) IncMissingChunk() {
	if c == nil {
		return
	}
	c.add(&c.missingChunks, 1)
}

// IncRecordingSaved records a persisted video.
func (c *Collector) IncRecordingSaved() {
	if c == nil {
		return
	}
	c.add(&c.recordingsSaved, 1)
}

// IncRecordingFailure records a recording that did not produce a video.
func (c *Collector) IncRecordingFailure() {
	if c == nil {
		return
	}
	c.add(&c.recordingFailures, 1)
}

// IncLimitRejection records a transfer or recording rejected by a ceiling.
func (c *Collector) IncLimitRejection() {
	if c == nil {
		return
	}
	c.add(&c.limitRejections, 1)
}

// IncStorageFailure records a failed write to the output sink.
func (c *Collector) IncStorageFailure() {
	if c == nil {
		return
	}
	c.add(&c.storageFailures, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectionsAccepted: c.connectionsAccepted,
		ConnectionsClosed:   c.connectionsClosed,
		PanicsRecovered:     c.panicsRecovered,

		BytesReceived:    c.bytesReceived,
		MessagesReceived: c.messagesReceived,
		MessagesByType:   maps.Clone(c.messagesByType),
		RawMessages:      c.rawMessages,
		UnknownMessages:  c.unknownMessages,
		DecryptErrors:    c.decryptErrors,
		FrameErrors:      c.frameErrors,

		FilesSaved:        c.filesSaved,
		FileFailures:      c.fileFailures,
		MissingChunks:     c.missingChunks,
		RecordingsSaved:   c.recordingsSaved,
		RecordingFailures: c.recordingFailures,
		LimitRejections:   c.limitRejections,
		StorageFailures:   c.storageFailures,

		Encryption:     c.encryption,
		StorageBackend: c.storageBackend,
	}
}
