package wire

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tether/types"
)

func encodeAll(t *testing.T, msgs ...types.Message) []byte {
	t.Helper()
	var out []byte
	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", m, err)
		}
		out = append(out, data...)
	}
	return out
}

func drainMessages(t *testing.T, f *Framer) []types.Message {
	t.Helper()
	values, err := f.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	msgs := make([]types.Message, 0, len(values))
	for _, v := range values {
		m, err := Parse(v)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestFramer_SplitAtEveryBoundary(t *testing.T) {
	want := []types.Message{
		types.TextMessage{Content: "hello"},
		types.FileChunkStart{Filename: "a.bin", TotalSize: 6, TotalChunks: 2},
		types.ScreenFrame{FrameNumber: 3, TotalFrames: 10, FrameData: "aGVsbG8="},
	}
	stream := encodeAll(t, want...)

	for cut := 0; cut <= len(stream); cut++ {
		f := NewFramer()

		f.Feed(stream[:cut])
		got := drainMessages(t, f)
		f.Feed(stream[cut:])
		got = append(got, drainMessages(t, f)...)

		if len(got) != len(want) {
			t.Fatalf("cut %d: got %d messages, want %d", cut, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("cut %d: message %d = %#v, want %#v", cut, i, got[i], want[i])
			}
		}
		if f.Pending() != 0 {
			t.Errorf("cut %d: Pending() = %d, want 0", cut, f.Pending())
		}
	}
}

func TestFramer_ByteAtATime(t *testing.T) {
	stream := encodeAll(t,
		types.TextMessage{Content: "one"},
		types.TextMessage{Content: "two"},
	)

	f := NewFramer()
	var got []types.Message
	for i := range stream {
		f.Feed(stream[i : i+1])
		got = append(got, drainMessages(t, f)...)
	}

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0] != (types.TextMessage{Content: "one"}) || got[1] != (types.TextMessage{Content: "two"}) {
		t.Errorf("messages out of order: %#v", got)
	}
}

func TestFramer_IncompleteRetained(t *testing.T) {
	stream := encodeAll(t, types.TextMessage{Content: "partial"})

	f := NewFramer()
	f.Feed(stream[:len(stream)-2])
	values, err := f.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("got %d values from incomplete input, want 0", len(values))
	}
	if f.Pending() != len(stream)-2 {
		t.Errorf("Pending() = %d, want %d", f.Pending(), len(stream)-2)
	}
}

func TestFramer_RawTextIsStreamError(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("hello from a plain socket"))

	_, err := f.Drain()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("Drain error = %v, want *FrameError", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want %v", frameErr.Kind, FrameErrorDecode)
	}
	if !IsStreamFrameError(err) {
		t.Error("IsStreamFrameError = false, want true")
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d after error, want 0", f.Pending())
	}
}

func TestFramer_ValuesBeforeErrorReturned(t *testing.T) {
	stream := encodeAll(t, types.TextMessage{Content: "good"})
	stream = append(stream, 0xc1) // never-used msgpack code

	f := NewFramer()
	f.Feed(stream)
	values, err := f.Drain()
	if err == nil {
		t.Fatal("expected error for invalid code")
	}
	if len(values) != 1 {
		t.Errorf("got %d values before error, want 1", len(values))
	}
}

func TestFramer_TooLarge(t *testing.T) {
	f := NewFramerWithLimit(4)
	// array(1) of str16 declaring 255 bytes, only one present
	f.Feed([]byte{0x91, 0xda, 0x00, 0xff, 'a'})

	_, err := f.Drain()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("Drain error = %v, want FrameErrorTooLarge", err)
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.Pending())
	}
}

func TestFramer_RecoversAfterError(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("garbage"))
	if _, err := f.Drain(); err == nil {
		t.Fatal("expected error for garbage")
	}

	f.Feed(encodeAll(t, types.RecordingEnd{}))
	got := drainMessages(t, f)
	if len(got) != 1 || got[0] != (types.RecordingEnd{}) {
		t.Errorf("messages after recovery = %#v, want [RecordingEnd]", got)
	}
}

func TestFramer_BareMapAccepted(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"type": "screen_recording_end"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	f := NewFramer()
	f.Feed(data)
	got := drainMessages(t, f)
	if len(got) != 1 || got[0] != (types.RecordingEnd{}) {
		t.Errorf("got %#v, want [RecordingEnd]", got)
	}
}

func TestFramer_DataHoldsOnlyUndecodedTail(t *testing.T) {
	stream := encodeAll(t, types.TextMessage{Content: "first"})
	stream = append(stream, []byte("plain tail")...)

	f := NewFramer()
	f.Feed(stream)
	values, err := f.Drain()
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1", len(values))
	}
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("Drain error = %v, want *FrameError", err)
	}
	if string(frameErr.Data) != "plain tail" {
		t.Errorf("Data = %q, want %q", frameErr.Data, "plain tail")
	}
}

func TestFramer_LargeValueInSmallReads(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4<<20/16)
	msg := types.FileTransfer{Filename: "big.bin", FileData: base64.StdEncoding.EncodeToString(payload)}
	stream := encodeAll(t, msg, types.RecordingEnd{})

	f := NewFramer()
	var got []any
	start := time.Now()
	for len(stream) > 0 {
		n := min(1024, len(stream))
		f.Feed(stream[:n])
		stream = stream[n:]
		values, err := f.Drain()
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		got = append(got, values...)
	}
	elapsed := time.Since(start)

	if len(got) != 2 {
		t.Fatalf("got %d values, want 2", len(got))
	}
	parsed, err := Parse(got[0])
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ft, ok := parsed.(types.FileTransfer)
	if !ok || ft.FileData != msg.FileData {
		t.Errorf("file transfer did not survive framing")
	}
	// A framer that re-decodes the buffer on every read needs tens of seconds here.
	if elapsed > 5*time.Second {
		t.Errorf("framing took %v, want linear time", elapsed)
	}
}

func TestFramer_DeclaredSizeOverLimit(t *testing.T) {
	f := NewFramerWithLimit(1024)
	// str32 declaring 1 MiB; only the header has arrived
	f.Feed([]byte{0x91, 0xdb, 0x00, 0x10, 0x00, 0x00})

	_, err := f.Drain()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("Drain error = %v, want FrameErrorTooLarge", err)
	}
}

func TestFramer_NestedAndWideValues(t *testing.T) {
	values := []any{
		[]any{map[string]any{"type": "text", "n": int64(-5), "f": 1.5, "big": uint64(1 << 40)}},
		map[string]any{"content": strings.Repeat("x", 70000), "bin": bytes.Repeat([]byte{1}, 300)},
		[]any{[]any{}, map[string]any{}, nil, true, false, make([]any, 20)},
	}
	var stream []byte
	for _, v := range values {
		b, err := msgpack.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		stream = append(stream, b...)
	}

	for _, step := range []int{1, 3, 17, 4096} {
		f := NewFramer()
		var got []any
		for rest := stream; len(rest) > 0; {
			n := min(step, len(rest))
			f.Feed(rest[:n])
			rest = rest[n:]
			out, err := f.Drain()
			if err != nil {
				t.Fatalf("step %d: Drain failed: %v", step, err)
			}
			got = append(got, out...)
		}
		if len(got) != len(values) {
			t.Errorf("step %d: got %d values, want %d", step, len(got), len(values))
		}
		if f.Pending() != 0 {
			t.Errorf("step %d: Pending() = %d, want 0", step, f.Pending())
		}
	}
}
