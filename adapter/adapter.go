// Package adapter defines the notification boundary for server events.
//
// Adapters publish agent lifecycle and output events to downstream systems.
// The server owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/tether/types"
)

// EventType names a published event.
type EventType string

const (
	// EventAgentConnected is published when an agent connection is accepted.
	EventAgentConnected EventType = "agent_connected"
	// EventAgentDisconnected is published when an agent session closes.
	EventAgentDisconnected EventType = "agent_disconnected"
	// EventFileReceived is published when a transferred file is persisted.
	EventFileReceived EventType = "file_received"
	// EventRecordingCompleted is published when a screen recording is encoded.
	EventRecordingCompleted EventType = "recording_completed"
)

// Event is the payload published for every event type.
// Fields that do not apply to an event type are omitted.
type Event struct {
	EventType EventType `json:"event_type"`
	ConnID    uint64    `json:"conn_id"`
	Addr      string    `json:"addr"`
	Roles     []string  `json:"roles,omitempty"`
	Name      string    `json:"name,omitempty"`
	Location  string    `json:"location,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Frames    int       `json:"frames,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp string    `json:"timestamp"` // RFC 3339
}

// NewEvent creates an event for peer stamped with the current UTC time.
func NewEvent(t EventType, peer types.Peer) *Event {
	return &Event{
		EventType: t,
		ConnID:    uint64(peer.ConnID),
		Addr:      peer.Addr,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends an event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}
