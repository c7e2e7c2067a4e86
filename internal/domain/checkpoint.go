package domain

import (
	"sort"
	"time"
)

// DownloadCheckpoint is the persisted progress marker of a bulk download
type DownloadCheckpoint struct {
	CompletedKeys map[RecordKey]struct{}
	StartedAt     time.Time
	Total         int
}

// NewDownloadCheckpoint creates an empty checkpoint started at the given time
func NewDownloadCheckpoint(startedAt time.Time) *DownloadCheckpoint {
	return &DownloadCheckpoint{
		CompletedKeys: make(map[RecordKey]struct{}),
		StartedAt:     startedAt,
	}
}

// IsStale reports whether the checkpoint is older than maxAge
func (c *DownloadCheckpoint) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.StartedAt) > maxAge
}

// IsCompleted reports whether the key was already downloaded
func (c *DownloadCheckpoint) IsCompleted(key RecordKey) bool {
	_, ok := c.CompletedKeys[key]
	return ok
}

// MarkCompleted records the key as downloaded
func (c *DownloadCheckpoint) MarkCompleted(key RecordKey) {
	if c.CompletedKeys == nil {
		c.CompletedKeys = make(map[RecordKey]struct{})
	}
	c.CompletedKeys[key] = struct{}{}
}

// Completed returns the number of completed keys
func (c *DownloadCheckpoint) Completed() int {
	return len(c.CompletedKeys)
}

// SortedKeys returns completed keys in a stable order for persistence
func (c *DownloadCheckpoint) SortedKeys() []RecordKey {
	keys := make([]RecordKey, 0, len(c.CompletedKeys))
	for k := range c.CompletedKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
