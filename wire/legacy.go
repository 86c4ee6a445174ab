package wire

import (
	"strconv"
	"strings"

	"github.com/pithecene-io/tether/types"
)

// Legacy text command prefixes.
const (
	LegacyFileStart = "FILE_START:"
	LegacyFileChunk = "FILE_CHUNK:"
	LegacyFileEnd   = "FILE_END"
)

// IsLegacyFileCommand reports whether s is one of the legacy file commands.
func IsLegacyFileCommand(s string) bool {
	return strings.HasPrefix(s, LegacyFileStart) ||
		strings.HasPrefix(s, LegacyFileChunk) ||
		s == LegacyFileEnd ||
		strings.HasPrefix(s, LegacyFileEnd+":")
}

// ParseLegacy parses legacy content text. File commands map to the same
// FileChunk variants as structured file_chunk messages, with Legacy set.
// Anything else is a TextMessage.
func ParseLegacy(s string) (types.Message, error) {
	switch {
	case strings.HasPrefix(s, LegacyFileStart):
		parts := strings.SplitN(s, ":", 4)
		if len(parts) != 4 {
			return nil, shapeError("FILE_START requires name, size and chunk count")
		}
		size, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, &FrameError{Kind: FrameErrorShape, Msg: "FILE_START size", Err: err}
		}
		chunks, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil {
			return nil, &FrameError{Kind: FrameErrorShape, Msg: "FILE_START chunk count", Err: err}
		}
		return types.FileChunkStart{Filename: parts[1], TotalSize: size, TotalChunks: chunks, Legacy: true}, nil

	case strings.HasPrefix(s, LegacyFileChunk):
		parts := strings.SplitN(s, ":", 3)
		if len(parts) != 3 {
			return nil, shapeError("FILE_CHUNK requires index and data")
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, &FrameError{Kind: FrameErrorShape, Msg: "FILE_CHUNK index", Err: err}
		}
		return types.FileChunkData{ChunkNumber: index, ChunkData: parts[2], Legacy: true}, nil

	case s == LegacyFileEnd || strings.HasPrefix(s, LegacyFileEnd+":"):
		return types.FileChunkEnd{Legacy: true}, nil

	default:
		return types.TextMessage{Content: s}, nil
	}
}
