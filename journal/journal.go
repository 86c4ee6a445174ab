// Package journal appends agent text messages to the output file.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Format selects the journal line layout.
type Format string

const (
	// FormatCLF writes Common Log Format lines.
	FormatCLF Format = "clf"
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
)

// clfTime is the CLF timestamp layout, e.g. 02/Jan/2006:15:04:05 -0700.
const clfTime = "02/Jan/2006:15:04:05 -0700"

// DefaultActor fills the CLF identity column when none is configured.
const DefaultActor = "-"

// ErrUnknownFormat is returned for a format other than clf or json.
var ErrUnknownFormat = errors.New("unknown journal format")

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCLF, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (want clf or json)", ErrUnknownFormat, s)
	}
}

// Entry is one journal record.
type Entry struct {
	Time    time.Time `json:"time"`
	Addr    string    `json:"addr"`
	Actor   string    `json:"actor"`
	Message string    `json:"message"`
	Size    int       `json:"size"`
}

// Options configures a Journal.
type Options struct {
	Format   Format
	Location *time.Location
	Actor    string
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Journal serializes writes of Entry lines to w.
type Journal struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	opts   Options
}

// New creates a journal writing to w.
func New(w io.Writer, opts Options) *Journal {
	if opts.Format == "" {
		opts.Format = FormatCLF
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Actor == "" {
		opts.Actor = DefaultActor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Journal{w: w, opts: opts}
}

// Open creates a journal appending to the file at path.
func Open(path string, opts Options) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := New(f, opts)
	j.closer = f
	return j, nil
}

// Append writes one line for message received from addr.
// size is the length of the raw data the message arrived in.
func (j *Journal) Append(addr, message string, size int) error {
	if j == nil {
		return nil
	}
	e := Entry{
		Time:    j.opts.Now().In(j.opts.Location),
		Addr:    addr,
		Actor:   j.opts.Actor,
		Message: message,
		Size:    size,
	}

	line, err := j.format(e)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (j *Journal) format(e Entry) ([]byte, error) {
	if j.opts.Format == FormatJSON {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode journal entry: %w", err)
		}
		return append(b, '\n'), nil
	}
	return []byte(FormatCLFLine(e)), nil
}

// FormatCLFLine renders e as a CLF line terminated by a newline.
// Newlines inside the message are escaped so each entry stays on one line.
func FormatCLFLine(e Entry) string {
	msg := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n", "\r", "\\r").Replace(e.Message)
	return fmt.Sprintf("%s - %s [%s] \"%s\" %d\n", e.Addr, e.Actor, e.Time.Format(clfTime), msg, e.Size)
}

// Close closes the underlying file if the journal opened one.
func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closer.Close()
}
