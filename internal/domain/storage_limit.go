package domain

import "fmt"

// StorageLimitPresets are the storage budgets a user may choose, in MB, ascending
var StorageLimitPresets = []int{50, 100, 150, 300, 450, 600, 750}

// DefaultStorageLimitMB is used when no valid preset has been saved
const DefaultStorageLimitMB = 300

// IsStorageLimitPreset reports whether mb is one of the allowed presets
func IsStorageLimitPreset(mb int) bool {
	for _, p := range StorageLimitPresets {
		if p == mb {
			return true
		}
	}
	return false
}

// ValidateStorageLimit rejects values outside the preset list
func ValidateStorageLimit(mb int) error {
	if !IsStorageLimitPreset(mb) {
		return fmt.Errorf("%w: %d MB (allowed: %v)", ErrInvalidStorageLimit, mb, StorageLimitPresets)
	}
	return nil
}

// BytesPerMB converts storage limits to bytes
const BytesPerMB = 1024 * 1024
