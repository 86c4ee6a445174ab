package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, time.March, 4, 17, 5, 9, 0, time.UTC)
}

func TestJournal_CLF(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	var buf bytes.Buffer
	j := New(&buf, Options{Format: FormatCLF, Location: loc, Actor: "john", Now: fixedClock})

	if err := j.Append("10.0.0.5:51234", "hello world", 11); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	want := "10.0.0.5:51234 - john [04/Mar/2026:12:05:09 -0500] \"hello world\" 11\n"
	if got := buf.String(); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestJournal_CLFEscapesNewlines(t *testing.T) {
	line := FormatCLFLine(Entry{
		Time:    fixedClock(),
		Addr:    "a",
		Actor:   DefaultActor,
		Message: "two\nlines \"quoted\"",
		Size:    3,
	})
	if strings.Count(line, "\n") != 1 {
		t.Errorf("line spans multiple lines: %q", line)
	}
	if !strings.Contains(line, `"two\nlines \"quoted\""`) {
		t.Errorf("line = %q, want escaped message", line)
	}
}

func TestJournal_JSON(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, Options{Format: FormatJSON, Now: fixedClock})

	if err := j.Append("10.0.0.5:1", "ping", 4); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var e Entry
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if e.Addr != "10.0.0.5:1" || e.Message != "ping" || e.Size != 4 {
		t.Errorf("entry = %+v", e)
	}
	if e.Actor != DefaultActor {
		t.Errorf("Actor = %q, want %q", e.Actor, DefaultActor)
	}
	if !e.Time.Equal(fixedClock()) {
		t.Errorf("Time = %v, want %v", e.Time, fixedClock())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"CLF", FormatCLF, false},
		{"json", FormatJSON, false},
		{" Json ", FormatJSON, false},
		{"xml", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("ParseFormat(%q) error = %v, want ErrUnknownFormat", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestJournal_OpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.txt")

	for i := 0; i < 2; i++ {
		j, err := Open(path, Options{Now: fixedClock})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := j.Append("a:1", "msg", 3); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := j.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("lines = %d, want 2", n)
	}
}

func TestJournal_ConcurrentLinesIntact(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, Options{Format: FormatJSON, Now: fixedClock})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				_ = j.Append("a:1", strings.Repeat("x", 64), 64)
			}
		}()
	}
	wg.Wait()

	sc := bufio.NewScanner(&buf)
	lines := 0
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 500 {
		t.Errorf("lines = %d, want 500", lines)
	}
}

func TestJournal_NilSafe(t *testing.T) {
	var j *Journal
	if err := j.Append("a", "b", 1); err != nil {
		t.Errorf("nil Append error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("nil Close error = %v", err)
	}
}
