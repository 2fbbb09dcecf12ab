package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Manifest is the CBOR-encoded session sidecar written next to the log file
// at startup. It ties the log to a session identity and the capture
// parameters in force, so offline tooling can interpret the file without
// the daemon's config.
type Manifest struct {
	SessionID     string    `cbor:"session_id"`
	StartedAt     time.Time `cbor:"started_at"`
	Interface     string    `cbor:"interface"`
	LogFile       string    `cbor:"log_file"`
	QueueCapacity int       `cbor:"queue_capacity"`
	BufferSize    int       `cbor:"buffer_size"`
	FlushEvery    int       `cbor:"flush_every"`
}

// NewManifest assigns a fresh session UUID.
func NewManifest(iface, logFile string, start time.Time) Manifest {
	return Manifest{
		SessionID: uuid.NewString(),
		StartedAt: start,
		Interface: iface,
		LogFile:   logFile,
	}
}

// ManifestPath is the sidecar path for a log file.
func ManifestPath(logFile string) string {
	return logFile + ".meta"
}

// WriteManifest encodes m to path. Manifest write failure is not fatal to
// the pipeline; the caller logs and continues.
func (m Manifest) WriteManifest(path string) error {
	data, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage: encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("storage: write manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes the sidecar at path.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("storage: read manifest: %w", err)
	}
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("storage: decode manifest: %w", err)
	}
	return m, nil
}
