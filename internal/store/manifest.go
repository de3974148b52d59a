// Package store backs up rotation state to an S3-compatible object
// store. Backups are advisory: the local state file stays authoritative,
// and restore only happens on explicit request or when local state is
// missing.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/minhvu-dev/subsweep/internal/json"
)

// ManifestFileName is the name of the manifest tracking uploaded state.
const ManifestFileName = ".subsweep-manifest.json"

// Manifest records what was last uploaded so unchanged state is not
// re-uploaded.
type Manifest struct {
	// LastBackup is the timestamp of the last successful upload.
	LastBackup time.Time `json:"last_backup"`
	// Checksum is a truncated SHA-256 of the last uploaded state blob.
	Checksum string `json:"checksum"`
	// RemoteObject is the object key of the last upload.
	RemoteObject string `json:"remote_object"`
}

// LoadManifest reads the manifest next to the state file. A missing or
// corrupt manifest yields an empty one.
func LoadManifest(dir string) *Manifest {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return &Manifest{}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return &Manifest{}
	}
	return &m
}

// Save persists the manifest atomically.
func (m *Manifest) Save(dir string) error {
	if m == nil {
		return nil
	}
	path := filepath.Join(dir, ManifestFileName)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ComputeChecksum generates a truncated SHA-256 checksum of the given data.
// The first 16 hex characters are sufficient for change detection.
func ComputeChecksum(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:8])
}
