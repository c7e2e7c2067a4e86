package domain

import (
	"time"
)

// RecordKey uniquely identifies a catalog record
type RecordKey string

// String returns the key as a plain string
func (k RecordKey) String() string {
	return string(k)
}

// Image is one artwork slot attached to a record
type Image struct {
	Slot int    `json:"slot"`
	URL  string `json:"url"`
}

// Snapshot is the denormalized data needed to render a record offline
type Snapshot struct {
	Key              RecordKey         `json:"key"`
	Title            string            `json:"title"`
	Summary          string            `json:"summary,omitempty"`
	Body             string            `json:"body"`
	References       []string          `json:"references,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Images           []Image           `json:"images,omitempty"`
	DefaultImageSlot int               `json:"default_image_slot,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
	UpdatedAt        *time.Time        `json:"updated_at,omitempty"`
}

// ImageURL returns the URL stored in the given slot
func (s *Snapshot) ImageURL(slot int) (string, bool) {
	for _, img := range s.Images {
		if img.Slot == slot && img.URL != "" {
			return img.URL, true
		}
	}
	return "", false
}

// ResolveImage picks the representative image of a record.
// Priority: the user's selected slot, then the catalog default, then the fallback slot.
// A slot with no URL falls through to the next candidate.
func (s *Snapshot) ResolveImage(selectedSlot int, hasSelection bool, fallbackSlot int) (string, bool) {
	candidates := make([]int, 0, 3)
	if hasSelection {
		candidates = append(candidates, selectedSlot)
	}
	if s.DefaultImageSlot > 0 {
		candidates = append(candidates, s.DefaultImageSlot)
	}
	candidates = append(candidates, fallbackSlot)

	for _, slot := range candidates {
		if url, ok := s.ImageURL(slot); ok {
			return url, true
		}
	}
	return "", false
}

// CacheEntry is a recently viewed record, evicted automatically
type CacheEntry struct {
	Key            RecordKey
	Payload        Snapshot
	LastAccessedAt time.Time
}

// LibraryEntry is a record the user chose to keep offline
type LibraryEntry struct {
	Key     RecordKey
	Payload Snapshot
	SavedAt time.Time
}

// Collection names the collection a record was found in
type Collection string

const (
	CollectionNone    Collection = ""
	CollectionCache   Collection = "cache"
	CollectionLibrary Collection = "library"
)

// ListItem is the list-view metadata of one record
type ListItem struct {
	Key       RecordKey `json:"key"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// ListItemFromSnapshot builds the list-view projection of a snapshot.
// The thumbnail is the default image, else the image in fallbackSlot.
func ListItemFromSnapshot(s Snapshot, fallbackSlot int) ListItem {
	item := ListItem{
		Key:     s.Key,
		Title:   s.Title,
		Summary: s.Summary,
		Tags:    s.Tags,
	}
	if url, ok := s.ResolveImage(0, false, fallbackSlot); ok {
		item.Thumbnail = url
	}
	return item
}

// ResultList is the cached copy of the catalog's list view
type ResultList struct {
	Items    []ListItem `json:"items"`
	CachedAt time.Time  `json:"cached_at"`
}

// IsFresh reports whether the list was cached within freshFor of now
func (r *ResultList) IsFresh(now time.Time, freshFor time.Duration) bool {
	return now.Sub(r.CachedAt) < freshFor
}

// Usage is the estimated storage used by the offline collections
type Usage struct {
	TotalBytes   int64 `json:"total_bytes"`
	CacheCount   int   `json:"cache_count"`
	LibraryCount int   `json:"library_count"`
}
