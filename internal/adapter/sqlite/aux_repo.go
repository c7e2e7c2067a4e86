package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

const (
	auxKeyCheckpoint = "download_checkpoint"
	auxKeyResultList = "result_list"
)

// checkpointRecord is the persisted form of domain.DownloadCheckpoint
type checkpointRecord struct {
	CompletedKeys []domain.RecordKey `json:"completed_keys"`
	StartedAt     time.Time          `json:"started_at"`
	Total         int                `json:"total"`
}

// GetCheckpoint returns the bulk download checkpoint
func (s *Store) GetCheckpoint(ctx context.Context) (*domain.DownloadCheckpoint, error) {
	var rec checkpointRecord
	found, err := s.getAux(ctx, auxKeyCheckpoint, &rec)
	if err != nil || !found {
		return nil, err
	}

	cp := domain.NewDownloadCheckpoint(rec.StartedAt)
	cp.Total = rec.Total
	for _, key := range rec.CompletedKeys {
		cp.MarkCompleted(key)
	}
	return cp, nil
}

// SaveCheckpoint replaces the bulk download checkpoint
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.DownloadCheckpoint) error {
	rec := checkpointRecord{
		CompletedKeys: cp.SortedKeys(),
		StartedAt:     cp.StartedAt,
		Total:         cp.Total,
	}
	return s.putAux(ctx, auxKeyCheckpoint, &rec)
}

// DeleteCheckpoint removes the checkpoint
func (s *Store) DeleteCheckpoint(ctx context.Context) error {
	return s.deleteAux(ctx, auxKeyCheckpoint)
}

// GetResultList returns the cached result list
func (s *Store) GetResultList(ctx context.Context) (*domain.ResultList, error) {
	var list domain.ResultList
	found, err := s.getAux(ctx, auxKeyResultList, &list)
	if err != nil || !found {
		return nil, err
	}
	return &list, nil
}

// SaveResultList replaces the cached result list
func (s *Store) SaveResultList(ctx context.Context, list *domain.ResultList) error {
	return s.putAux(ctx, auxKeyResultList, list)
}

// DeleteResultList removes the cached result list
func (s *Store) DeleteResultList(ctx context.Context) error {
	return s.deleteAux(ctx, auxKeyResultList)
}

func (s *Store) getAux(ctx context.Context, key string, v any) (bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM aux WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.codec.unmarshal(value, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putAux(ctx context.Context, key string, v any) error {
	value, err := s.codec.marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aux (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixNano())
	return err
}

func (s *Store) deleteAux(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM aux WHERE key = ?`, key)
	return err
}
