package domain

import (
	"errors"
)

// Common domain errors
var (
	ErrNotFound            = errors.New("not found")
	ErrStoreUnavailable    = errors.New("offline store unavailable")
	ErrInvalidStorageLimit = errors.New("storage limit is not a preset")
	ErrInvalidInput        = errors.New("invalid input")

	// Downloader errors
	ErrDownloadInProgress = errors.New("bulk download already running")
	ErrCatalogUnavailable = errors.New("catalog listing failed")

	// Asset errors
	ErrNoImage = errors.New("record has no resolvable image")
)

// SkippableError represents an error that can be logged and skipped.
// Batch operations count it and continue with the next item.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// ListingError is the fatal error class of a bulk download: without the
// catalog listing there is nothing to iterate.
type ListingError struct {
	Err error
}

// Error returns the error message
func (e *ListingError) Error() string {
	if e.Err != nil {
		return ErrCatalogUnavailable.Error() + ": " + e.Err.Error()
	}
	return ErrCatalogUnavailable.Error()
}

// Unwrap returns the underlying error
func (e *ListingError) Unwrap() []error {
	return []error{ErrCatalogUnavailable, e.Err}
}

// IsFatal reports whether err aborts a batch operation
func IsFatal(err error) bool {
	var le *ListingError
	return errors.As(err, &le)
}
