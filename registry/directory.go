package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/tether/types"
)

// ErrCorruptDirectory is returned by Load when the file is not a JSON array of records.
var ErrCorruptDirectory = errors.New("agent directory is corrupt")

// Directory is an append-only JSON file of every distinct agent seen.
// Records are deduplicated by exact equality.
type Directory struct {
	mu   sync.Mutex
	path string
}

// NewDirectory returns a directory backed by path. The file is created on first Record.
func NewDirectory(path string) *Directory {
	return &Directory{path: path}
}

// Path returns the backing file path.
func (d *Directory) Path() string {
	return d.path
}

// Load returns all records. A missing file yields no records.
func (d *Directory) Load() ([]types.AgentRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

func (d *Directory) load() ([]types.AgentRecord, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent directory: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []types.AgentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDirectory, err)
	}
	return records, nil
}

// Record appends rec unless an equal record exists. It reports whether rec
// was added. A corrupt file is replaced.
func (d *Directory) Record(rec types.AgentRecord) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.load()
	if err != nil && !errors.Is(err, ErrCorruptDirectory) {
		return false, err
	}
	for _, existing := range records {
		if existing.Equal(rec) {
			return false, nil
		}
	}
	records = append(records, rec)

	if err := d.write(records); err != nil {
		return false, err
	}
	return true, nil
}

// write replaces the file atomically via a temp file and rename.
func (d *Directory) write(records []types.AgentRecord) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encode agent directory: %w", err)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create agent directory dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agents-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename agent directory: %w", err)
	}
	return nil
}
