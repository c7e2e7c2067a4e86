package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

func TestOpen_MissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if got := s.StorageLimitMB(); got != domain.DefaultStorageLimitMB {
		t.Errorf("StorageLimitMB() = %d, want %d", got, domain.DefaultStorageLimitMB)
	}
	if !s.PrefetchEnabled() {
		t.Error("PrefetchEnabled() = false, want true")
	}
}

func TestStore_SetStorageLimitPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.SetStorageLimitMB(150); err != nil {
		t.Fatalf("SetStorageLimitMB() error = %v", err)
	}
	if err := s.SetPrefetchEnabled(false); err != nil {
		t.Fatalf("SetPrefetchEnabled() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := reopened.StorageLimitMB(); got != 150 {
		t.Errorf("StorageLimitMB() = %d, want 150", got)
	}
	if reopened.PrefetchEnabled() {
		t.Error("PrefetchEnabled() = true, want false")
	}
}

func TestStore_NonPresetReadsAsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("storage_limit_mb: 123\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := s.StorageLimitMB(); got != domain.DefaultStorageLimitMB {
		t.Errorf("StorageLimitMB() = %d, want %d", got, domain.DefaultStorageLimitMB)
	}
}

func TestOpen_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("storage_limit_mb: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open() error = nil, want parse error")
	}
}
