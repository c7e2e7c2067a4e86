package port

// SettingsStore holds user preferences outside the offline store
type SettingsStore interface {
	// StorageLimitMB returns the selected storage budget preset
	StorageLimitMB() int

	// SetStorageLimitMB persists a new budget; the caller validates the preset
	SetStorageLimitMB(mb int) error

	// PrefetchEnabled reports whether background prefetching is on
	PrefetchEnabled() bool
}
