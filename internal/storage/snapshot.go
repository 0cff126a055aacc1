package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sarna320/scalp/internal/domain"
)

// Snapshot is a point-in-time JSON capture of the position book,
// human-readable and diffable. The SQLite store stays authoritative;
// the snapshot seeds the book only when the database is empty.
type Snapshot struct {
	TsUnixM   int64                      `json:"ts_us"`
	Positions map[uint16]domain.Position `json:"positions"`
}

// SnapshotWriter serializes snapshot writes to one file. The write is
// atomic: data lands in a temp file first and replaces the target with
// a rename, so a crash mid-write never leaves a torn snapshot.
type SnapshotWriter struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotWriter creates a writer targeting the given file path.
func NewSnapshotWriter(path string) *SnapshotWriter {
	return &SnapshotWriter{path: path}
}

// Save writes the positions as a snapshot, replacing any previous one.
func (w *SnapshotWriter) Save(positions map[uint16]domain.Position) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		TsUnixM:   time.Now().UnixMicro(),
		Positions: positions,
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	slog.Debug("SNAPSHOT_SAVED",
		slog.String("path", w.path),
		slog.Int("positions", len(positions)))

	return nil
}

// LoadSnapshot reads a snapshot file. A missing file returns nil with
// no error.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("SNAPSHOT_LOADED",
		slog.String("path", path),
		slog.Int("positions", len(snap.Positions)))

	return &snap, nil
}
