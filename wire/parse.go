package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pithecene-io/tether/types"
)

// DefaultFPS is used when a recording start omits fps.
const DefaultFPS = 30

// Parse maps one decoded top-level value to a Message.
//
// Agents send a one-element array wrapping a map; a bare map is also accepted.
// A map with a "type" key is structured. Otherwise its "content" string is
// parsed as legacy text.
func Parse(v any) (types.Message, error) {
	var m map[string]any
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return nil, shapeError("empty array")
		}
		first, ok := asMap(t[0])
		if !ok {
			return nil, shapeError(fmt.Sprintf("first array element is %T, not a map", t[0]))
		}
		m = first
	default:
		first, ok := asMap(v)
		if !ok {
			return nil, shapeError(fmt.Sprintf("value is %T, not an array or map", v))
		}
		m = first
	}

	if rawType, ok := m["type"]; ok {
		typ, _ := asString(rawType)
		return parseStructured(types.MessageType(typ), m)
	}
	if rawContent, ok := m["content"]; ok {
		content, ok := asString(rawContent)
		if !ok {
			return nil, shapeError(fmt.Sprintf("content is %T, not a string", rawContent))
		}
		return ParseLegacy(content)
	}
	return nil, shapeError("map has neither type nor content")
}

func parseStructured(typ types.MessageType, m map[string]any) (types.Message, error) {
	f := fields{m: m}

	var msg types.Message
	switch typ {
	case types.MessageTypeRecordingStart:
		msg = types.RecordingStart{
			Duration: f.intOr("duration", 0),
			FPS:      f.intOr("fps", DefaultFPS),
			Width:    f.intOr("width", 0),
			Height:   f.intOr("height", 0),
		}
	case types.MessageTypeScreenFrame:
		msg = types.ScreenFrame{
			FrameNumber: f.getInt("frame_number", 0),
			TotalFrames: f.getInt("total_frames", 0),
			FrameData:   f.getString("frame_data"),
		}
	case types.MessageTypeRecordingEnd:
		msg = types.RecordingEnd{}
	case types.MessageTypeFileTransfer:
		name := f.getString("filename")
		if name == "" {
			name = "unknown_file"
		}
		msg = types.FileTransfer{Filename: name, FileData: f.getString("filedata")}
	case types.MessageTypeScreenshot:
		msg = types.Screenshot{Data: f.getString("data")}
	case types.MessageTypeFileChunk:
		switch chunkType := f.getString("chunk_type"); chunkType {
		case types.ChunkTypeStart:
			msg = types.FileChunkStart{
				Filename:    f.getString("filename"),
				TotalSize:   f.getInt64("total_size", 0),
				TotalChunks: f.getInt("total_chunks", 0),
			}
		case types.ChunkTypeData:
			msg = types.FileChunkData{
				ChunkNumber: f.getInt("chunk_number", 0),
				ChunkData:   f.getString("chunk_data"),
			}
		case types.ChunkTypeEnd:
			msg = types.FileChunkEnd{}
		default:
			return types.Unrecognized{Type: string(typ) + "/" + chunkType}, nil
		}
	default:
		return types.Unrecognized{Type: string(typ)}, nil
	}

	if f.err != nil {
		return nil, f.err
	}
	return msg, nil
}

// fields reads typed values out of a decoded map, recording the first
// conversion failure.
type fields struct {
	m   map[string]any
	err error
}

func (f *fields) getInt(key string, def int) int {
	v := f.getInt64(key, int64(def))
	if v > math.MaxInt32 || v < math.MinInt32 {
		f.fail(key, "out of range")
		return def
	}
	return int(v)
}

// intOr reads an integer like getInt but falls back to def instead of
// failing the message when the value is unusable.
func (f *fields) intOr(key string, def int) int {
	raw, ok := f.m[key]
	if !ok || raw == nil {
		return def
	}
	v, ok := asInt64(raw)
	if !ok || v > math.MaxInt32 || v < math.MinInt32 {
		return def
	}
	return int(v)
}

func (f *fields) getInt64(key string, def int64) int64 {
	raw, ok := f.m[key]
	if !ok || raw == nil {
		return def
	}
	v, ok := asInt64(raw)
	if !ok {
		f.fail(key, fmt.Sprintf("%v is not an integer", raw))
		return def
	}
	return v
}

func (f *fields) getString(key string) string {
	raw, ok := f.m[key]
	if !ok || raw == nil {
		return ""
	}
	s, ok := asString(raw)
	if !ok {
		f.fail(key, fmt.Sprintf("%T is not a string", raw))
	}
	return s
}

func (f *fields) fail(key, reason string) {
	if f.err == nil {
		f.err = shapeError(fmt.Sprintf("field %q: %s", key, reason))
	}
}

func shapeError(msg string) *FrameError {
	return &FrameError{Kind: FrameErrorShape, Msg: msg}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := asString(k)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

// asInt64 accepts any msgpack number or a decimal string, since agents
// are inconsistent about numeric encoding.
func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case uint:
		if uint64(t) > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float32:
		return floatToInt64(float64(t))
	case float64:
		return floatToInt64(t)
	case string:
		return parseIntString(t)
	case []byte:
		return parseIntString(string(t))
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func parseIntString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatToInt64(f)
	}
	return 0, false
}
