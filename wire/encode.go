package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tether/types"
)

// EncodeCommand encodes an outbound structured request such as
// {"type": "screenshoot"}.
func EncodeCommand(t types.MessageType) ([]byte, error) {
	data, err := msgpack.Marshal(map[string]string{"type": string(t)})
	if err != nil {
		return nil, fmt.Errorf("encode command %q: %w", t, err)
	}
	return data, nil
}

// Encode produces the agent-side encoding of msg: a one-element array
// wrapping the message map. Legacy file variants encode as content text.
func Encode(msg types.Message) ([]byte, error) {
	m, err := toMap(msg)
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal([]any{m})
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	return data, nil
}

func toMap(msg types.Message) (map[string]any, error) {
	switch m := msg.(type) {
	case types.TextMessage:
		return map[string]any{"content": m.Content}, nil
	case types.RecordingStart:
		return map[string]any{
			"type":     string(types.MessageTypeRecordingStart),
			"duration": m.Duration,
			"fps":      m.FPS,
			"width":    m.Width,
			"height":   m.Height,
		}, nil
	case types.ScreenFrame:
		return map[string]any{
			"type":         string(types.MessageTypeScreenFrame),
			"frame_number": m.FrameNumber,
			"total_frames": m.TotalFrames,
			"frame_data":   m.FrameData,
		}, nil
	case types.RecordingEnd:
		return map[string]any{"type": string(types.MessageTypeRecordingEnd)}, nil
	case types.FileTransfer:
		return map[string]any{
			"type":     string(types.MessageTypeFileTransfer),
			"filename": m.Filename,
			"filedata": m.FileData,
		}, nil
	case types.Screenshot:
		return map[string]any{"type": string(types.MessageTypeScreenshot), "data": m.Data}, nil
	case types.FileChunkStart:
		if m.Legacy {
			return map[string]any{"content": fmt.Sprintf("%s%s:%d:%d", LegacyFileStart, m.Filename, m.TotalSize, m.TotalChunks)}, nil
		}
		return map[string]any{
			"type":         string(types.MessageTypeFileChunk),
			"chunk_type":   types.ChunkTypeStart,
			"filename":     m.Filename,
			"total_size":   m.TotalSize,
			"total_chunks": m.TotalChunks,
		}, nil
	case types.FileChunkData:
		if m.Legacy {
			return map[string]any{"content": fmt.Sprintf("%s%d:%s", LegacyFileChunk, m.ChunkNumber, m.ChunkData)}, nil
		}
		return map[string]any{
			"type":         string(types.MessageTypeFileChunk),
			"chunk_type":   types.ChunkTypeData,
			"chunk_number": m.ChunkNumber,
			"chunk_data":   m.ChunkData,
		}, nil
	case types.FileChunkEnd:
		if m.Legacy {
			return map[string]any{"content": LegacyFileEnd}, nil
		}
		return map[string]any{"type": string(types.MessageTypeFileChunk), "chunk_type": types.ChunkTypeEnd}, nil
	case types.Unrecognized:
		return map[string]any{"type": m.Type}, nil
	default:
		return nil, fmt.Errorf("cannot encode %T", msg)
	}
}
