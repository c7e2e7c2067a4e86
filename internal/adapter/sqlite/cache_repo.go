package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// GetCacheEntry retrieves a cache entry by key
func (s *Store) GetCacheEntry(ctx context.Context, key domain.RecordKey) (*domain.CacheEntry, error) {
	query := `SELECT key, payload, last_accessed_at FROM cache_entries WHERE key = ?`

	var (
		k          string
		payload    []byte
		accessedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&k, &payload, &accessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry := &domain.CacheEntry{
		Key:            domain.RecordKey(k),
		LastAccessedAt: time.Unix(0, accessedAt),
	}
	if err := s.codec.unmarshal(payload, &entry.Payload); err != nil {
		return nil, err
	}
	return entry, nil
}

// HasCacheEntry reports whether key is cached
func (s *Store) HasCacheEntry(ctx context.Context, key domain.RecordKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cache_entries WHERE key = ?`, string(key)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertCacheEntry inserts or replaces a cache entry
func (s *Store) UpsertCacheEntry(ctx context.Context, entry *domain.CacheEntry) error {
	payload, err := s.codec.marshal(&entry.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cache_entries (key, payload, last_accessed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			last_accessed_at = excluded.last_accessed_at
	`
	_, err = s.db.ExecContext(ctx, query, string(entry.Key), payload, entry.LastAccessedAt.UnixNano())
	return err
}

// TouchCacheEntry updates last_accessed_at of an existing entry
func (s *Store) TouchCacheEntry(ctx context.Context, key domain.RecordKey, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_accessed_at = ? WHERE key = ?`,
		at.UnixNano(), string(key))
	return err
}

// DeleteCacheEntry removes a cache entry
func (s *Store) DeleteCacheEntry(ctx context.Context, key domain.RecordKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, string(key))
	return err
}

// CountCacheEntries returns the number of cached records
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	return count, err
}

// DeleteOldestCacheEntries removes the n least recently accessed entries
func (s *Store) DeleteOldestCacheEntries(ctx context.Context, n int) ([]domain.RecordKey, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT key FROM cache_entries
		ORDER BY last_accessed_at ASC, key ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	keys, err := scanKeys(rows)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, string(key)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return keys, nil
}

// ListCacheKeys returns every cached key
func (s *Store) ListCacheKeys(ctx context.Context) ([]domain.RecordKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return scanKeys(rows)
}

// ClearCache removes every cache entry
func (s *Store) ClearCache(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// scanKeys reads a single key column and closes rows
func scanKeys(rows *sql.Rows) ([]domain.RecordKey, error) {
	defer rows.Close()

	var keys []domain.RecordKey
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, domain.RecordKey(k))
	}
	return keys, rows.Err()
}
