// Package storage provides the append-only session log store.
//
// One log file per session, named from the wall clock at startup the same
// way candump-compatible loggers name theirs:
//
//	candump-20060102-150405.log
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrOpen wraps failures to open the session log; the orchestrator responds
// by degrading to diagnostic-sink-only mode instead of aborting.
var ErrOpen = errors.New("storage: open session log")

// Store is the write side of the session log as the persistence task sees
// it. A short Write (n != len(p)) is a non-fatal storage error; the caller
// counts it and moves on without retrying the same bytes.
type Store interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error

	// Name identifies the underlying log for diagnostics.
	Name() string
}

// FileStore is a Store over a single append-only file.
type FileStore struct {
	f    *os.File
	name string
}

// SessionFilename returns the per-session log name for a start time.
func SessionFilename(start time.Time) string {
	return "candump-" + start.Format("20060102-150405") + ".log"
}

// OpenSession creates the session log under dir, creating dir if needed.
func OpenSession(dir string, start time.Time) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, dir, err)
	}
	name := filepath.Join(dir, SessionFilename(start))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, name, err)
	}
	return &FileStore{f: f, name: name}, nil
}

func (s *FileStore) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Flush forces buffered data to the device. Flushing twice with no
// intervening writes persists no additional bytes.
func (s *FileStore) Flush() error {
	return s.f.Sync()
}

func (s *FileStore) Close() error {
	return s.f.Close()
}

func (s *FileStore) Name() string { return s.name }
