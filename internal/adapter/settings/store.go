// Package settings persists user preferences in a small YAML file kept
// apart from the offline store, so they survive ClearCache and ClearLibrary.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
)

const (
	keyStorageLimitMB  = "storage_limit_mb"
	keyPrefetchEnabled = "prefetch_enabled"
)

// Store implements port.SettingsStore on its own viper instance
type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

var _ port.SettingsStore = (*Store)(nil)

// Open loads the settings file at path. A missing file yields defaults
// and is created on the first write.
func Open(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault(keyStorageLimitMB, domain.DefaultStorageLimitMB)
	v.SetDefault(keyPrefetchEnabled, true)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	return &Store{v: v, path: path}, nil
}

// StorageLimitMB returns the stored budget. A value that is not a preset
// (hand-edited file) reads as the default.
func (s *Store) StorageLimitMB() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb := s.v.GetInt(keyStorageLimitMB)
	if !domain.IsStorageLimitPreset(mb) {
		return domain.DefaultStorageLimitMB
	}
	return mb
}

// SetStorageLimitMB stores mb and writes the file
func (s *Store) SetStorageLimitMB(mb int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(keyStorageLimitMB, mb)
	return s.write()
}

// PrefetchEnabled reports whether background prefetching is on
func (s *Store) PrefetchEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(keyPrefetchEnabled)
}

// SetPrefetchEnabled toggles background prefetching and writes the file
func (s *Store) SetPrefetchEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(keyPrefetchEnabled, enabled)
	return s.write()
}

func (s *Store) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
