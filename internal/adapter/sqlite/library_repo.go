package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// GetLibraryEntry retrieves a library entry by key
func (s *Store) GetLibraryEntry(ctx context.Context, key domain.RecordKey) (*domain.LibraryEntry, error) {
	query := `SELECT key, payload, saved_at FROM library_entries WHERE key = ?`

	var (
		k       string
		payload []byte
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&k, &payload, &savedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry := &domain.LibraryEntry{
		Key:     domain.RecordKey(k),
		SavedAt: time.Unix(0, savedAt),
	}
	if err := s.codec.unmarshal(payload, &entry.Payload); err != nil {
		return nil, err
	}
	return entry, nil
}

// HasLibraryEntry reports whether key is in the library
func (s *Store) HasLibraryEntry(ctx context.Context, key domain.RecordKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM library_entries WHERE key = ?`, string(key)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertLibraryEntry inserts or replaces a library entry
func (s *Store) UpsertLibraryEntry(ctx context.Context, entry *domain.LibraryEntry) error {
	payload, err := s.codec.marshal(&entry.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO library_entries (key, payload, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`
	_, err = s.db.ExecContext(ctx, query, string(entry.Key), payload, entry.SavedAt.UnixNano())
	return err
}

// DeleteLibraryEntry removes a library entry
func (s *Store) DeleteLibraryEntry(ctx context.Context, key domain.RecordKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM library_entries WHERE key = ?`, string(key))
	return err
}

// CountLibraryEntries returns the number of saved records
func (s *Store) CountLibraryEntries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_entries`).Scan(&count)
	return count, err
}

// ListLibraryEntries returns all entries, most recently saved first
func (s *Store) ListLibraryEntries(ctx context.Context) ([]*domain.LibraryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, payload, saved_at FROM library_entries
		ORDER BY saved_at DESC, key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LibraryEntry
	for rows.Next() {
		var (
			k       string
			payload []byte
			savedAt int64
		)
		if err := rows.Scan(&k, &payload, &savedAt); err != nil {
			return nil, err
		}
		entry := &domain.LibraryEntry{
			Key:     domain.RecordKey(k),
			SavedAt: time.Unix(0, savedAt),
		}
		if err := s.codec.unmarshal(payload, &entry.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListLibraryKeys returns every saved key
func (s *Store) ListLibraryKeys(ctx context.Context) ([]domain.RecordKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM library_entries ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return scanKeys(rows)
}

// ClearLibrary removes every library entry
func (s *Store) ClearLibrary(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM library_entries`)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
