package database

import (
	"context"
	"fmt"
	"time"

	"trackresync/internal/models"
)

// PendingMarkers is the sqlite-backed pending item store.
type PendingMarkers struct {
	db *DB
}

func (db *DB) PendingMarkers() *PendingMarkers {
	return &PendingMarkers{db: db}
}

func (s *PendingMarkers) Add(ctx context.Context, itemID int64, kind models.RecordKind) error {
	if !kind.Valid() {
		return fmt.Errorf("add pending marker: unknown kind %q", kind)
	}
	query := `INSERT INTO pending_markers (item_id, kind, created_at) VALUES (?, ?, ?)
              ON CONFLICT(item_id, kind) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, itemID, string(kind), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add pending marker %s:%d: %w", kind, itemID, err)
	}
	return nil
}

func (s *PendingMarkers) Remove(ctx context.Context, itemID int64, kind models.RecordKind) error {
	query := `DELETE FROM pending_markers WHERE item_id = ? AND kind = ?`
	if _, err := s.db.ExecContext(ctx, query, itemID, string(kind)); err != nil {
		return fmt.Errorf("failed to remove pending marker %s:%d: %w", kind, itemID, err)
	}
	return nil
}

// List reads every marker of the kind into memory before returning, so callers iterate a
// snapshot that later Add/Remove calls do not affect.
func (s *PendingMarkers) List(ctx context.Context, kind models.RecordKind) ([]models.PendingMarker, error) {
	query := `SELECT item_id, kind, created_at FROM pending_markers WHERE kind = ? ORDER BY created_at ASC, item_id ASC`
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending markers: %w", err)
	}
	defer rows.Close()

	var markers []models.PendingMarker
	for rows.Next() {
		var (
			m       models.PendingMarker
			rawKind string
		)
		if err := rows.Scan(&m.ItemID, &rawKind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending marker: %w", err)
		}
		m.Kind = models.RecordKind(rawKind)
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending markers: %w", err)
	}
	return markers, nil
}
