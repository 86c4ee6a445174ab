package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// maxStderrTail bounds how much encoder output is kept for error messages.
const maxStderrTail = 2048

// EncodeRequest describes one video encode.
type EncodeRequest struct {
	// Pattern is a printf-style image path such as /tmp/x/frame%04d.png.
	// Files are numbered contiguously from zero.
	Pattern string
	FPS     int
	// Output is the path the video must be written to.
	Output string
	Frames int
}

// Encoder renders a numbered image sequence into a video file.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// EncoderError reports a failed encoder process.
type EncoderError struct {
	// ExitCode is the process exit code, or -1 if it did not run to exit.
	ExitCode int
	// Stderr is the tail of the process error output.
	Stderr string
	Err    error
}

func (e *EncoderError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("encoder exited with code %d: %v: %s", e.ExitCode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("encoder exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}

// FFmpeg encodes H.264 MP4 video by running the ffmpeg binary.
type FFmpeg struct {
	// Path is the ffmpeg executable; "ffmpeg" is resolved from PATH when empty.
	Path string
}

// Args returns the ffmpeg arguments for req.
func (f FFmpeg) Args(req EncodeRequest) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-framerate", strconv.Itoa(req.FPS),
		"-i", req.Pattern,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		req.Output,
	}
}

// Encode runs ffmpeg and waits for it to exit. The process is killed if ctx ends.
func (f FFmpeg) Encode(ctx context.Context, req EncodeRequest) error {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, path, f.Args(req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	encErr := &EncoderError{ExitCode: -1, Stderr: tail(stderr.Bytes()), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		encErr.ExitCode = exitErr.ExitCode()
	}
	return encErr
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderrTail {
		b = b[len(b)-maxStderrTail:]
	}
	return string(b)
}
