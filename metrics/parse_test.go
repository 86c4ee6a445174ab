package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseExposition_RoundTrip(t *testing.T) {
	c := NewCollector("rsa-oaep", "fs")
	c.IncConnectionAccepted()
	c.IncConnectionAccepted()
	c.IncConnectionClosed()
	c.AddBytesReceived(4096)
	c.IncMessage("text")
	c.IncMessage("text")
	c.IncMessage("file_chunk_data")
	c.IncFileSaved()
	c.IncMissingChunk()
	c.IncRecordingSaved()
	c.IncDecryptError()

	h, err := Handler(c)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	got, err := ParseExposition(rec.Body)
	if err != nil {
		t.Fatalf("ParseExposition failed: %v", err)
	}
	want := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"ConnectionsAccepted", got.ConnectionsAccepted, want.ConnectionsAccepted},
		{"ConnectionsClosed", got.ConnectionsClosed, want.ConnectionsClosed},
		{"BytesReceived", got.BytesReceived, want.BytesReceived},
		{"MessagesReceived", got.MessagesReceived, want.MessagesReceived},
		{"FilesSaved", got.FilesSaved, want.FilesSaved},
		{"MissingChunks", got.MissingChunks, want.MissingChunks},
		{"RecordingsSaved", got.RecordingsSaved, want.RecordingsSaved},
		{"DecryptErrors", got.DecryptErrors, want.DecryptErrors},
		{"text messages", got.MessagesByType["text"], 2},
		{"chunk messages", got.MessagesByType["file_chunk_data"], 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
	if got.Encryption != "rsa-oaep" {
		t.Errorf("Encryption = %q, want %q", got.Encryption, "rsa-oaep")
	}
	if got.StorageBackend != "fs" {
		t.Errorf("StorageBackend = %q, want %q", got.StorageBackend, "fs")
	}
}

func TestParseExposition_IgnoresForeignFamilies(t *testing.T) {
	input := `# TYPE go_goroutines gauge
go_goroutines 12
# TYPE tether_files_saved_total counter
tether_files_saved_total{encryption="none",storage_backend="fs"} 3
`
	got, err := ParseExposition(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseExposition failed: %v", err)
	}
	if got.FilesSaved != 3 {
		t.Errorf("FilesSaved = %d, want 3", got.FilesSaved)
	}
	if got.Encryption != "none" {
		t.Errorf("Encryption = %q, want none", got.Encryption)
	}
}

func TestParseExposition_Malformed(t *testing.T) {
	if _, err := ParseExposition(strings.NewReader("tether_files_saved_total{ 3\n")); err == nil {
		t.Error("expected error for malformed exposition")
	}
}
