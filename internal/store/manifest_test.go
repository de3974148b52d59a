package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := &Manifest{
		LastBackup:   time.Now().Truncate(time.Second),
		Checksum:     "deadbeefdeadbeef",
		RemoteObject: "prod/state.json",
	}
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := LoadManifest(dir)
	if loaded.Checksum != m.Checksum || loaded.RemoteObject != m.RemoteObject {
		t.Errorf("loaded = %+v, want %+v", loaded, m)
	}
	if !loaded.LastBackup.Equal(m.LastBackup) {
		t.Errorf("last backup = %v, want %v", loaded.LastBackup, m.LastBackup)
	}
}

func TestLoadManifestMissing(t *testing.T) {
	m := LoadManifest(t.TempDir())
	if m == nil {
		t.Fatal("missing manifest returned nil")
	}
	if m.Checksum != "" || !m.LastBackup.IsZero() {
		t.Errorf("missing manifest not empty: %+v", m)
	}
}

func TestLoadManifestCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := LoadManifest(dir)
	if m == nil || m.Checksum != "" {
		t.Errorf("corrupt manifest = %+v, want empty", m)
	}
}

func TestComputeChecksum(t *testing.T) {
	a := ComputeChecksum([]byte("state one"))
	b := ComputeChecksum([]byte("state two"))
	if a == "" || b == "" {
		t.Fatal("checksum empty for non-empty data")
	}
	if a == b {
		t.Error("different data has the same checksum")
	}
	if len(a) != 16 {
		t.Errorf("checksum length = %d, want 16 hex chars", len(a))
	}
	if got := ComputeChecksum([]byte("state one")); got != a {
		t.Error("checksum not deterministic")
	}
	if ComputeChecksum(nil) != "" {
		t.Error("empty data checksum not empty")
	}
}
