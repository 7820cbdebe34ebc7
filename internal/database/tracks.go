package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trackresync/internal/models"
)

type trackPtr[T any] interface {
	*T
	models.TrackRecord
}

// TrackStore persists one kind of track in its own table. Both kinds share a schema, so
// the same implementation backs the manga and anime repositories.
type TrackStore[T any, PT trackPtr[T]] struct {
	db    *DB
	table string
}

func NewTrackStore[T any, PT trackPtr[T]](db *DB, table string) *TrackStore[T, PT] {
	return &TrackStore[T, PT]{db: db, table: table}
}

// Find returns the track with the given id, or nil when it does not exist.
func (s *TrackStore[T, PT]) Find(ctx context.Context, id int64) (*T, error) {
	query := fmt.Sprintf(`SELECT id, tracker_id, media_id, remote_id, title, score, status,
            last_progress, total, started_at, finished_at, updated_at
            FROM %s WHERE id = ?`, s.table)

	record := new(T)
	base := PT(record).Base()
	var (
		last  float64
		total int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&base.ID,
		&base.TrackerID,
		&base.MediaID,
		&base.RemoteID,
		&base.Title,
		&base.Score,
		&base.Status,
		&last,
		&total,
		&base.StartedAt,
		&base.FinishedAt,
		&base.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %d: %w", s.table, id, err)
	}
	PT(record).SetProgress(last, total)
	return record, nil
}

// Persist upserts the track by id. A zero id inserts a new row and assigns the id.
func (s *TrackStore[T, PT]) Persist(ctx context.Context, record *T) error {
	if record == nil {
		return fmt.Errorf("%s: record is nil", s.table)
	}
	p := PT(record)
	base := p.Base()
	last, total := p.Progress()
	base.UpdatedAt = time.Now().UTC()

	if base.ID == 0 {
		query := fmt.Sprintf(`INSERT INTO %s (tracker_id, media_id, remote_id, title, score, status,
                last_progress, total, started_at, finished_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
		result, err := s.db.ExecContext(ctx, query,
			base.TrackerID, base.MediaID, base.RemoteID, base.Title, base.Score, base.Status,
			last, total, base.StartedAt, base.FinishedAt, base.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", s.table, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		base.ID = id
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, tracker_id, media_id, remote_id, title, score, status,
            last_progress, total, started_at, finished_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                tracker_id = excluded.tracker_id,
                media_id = excluded.media_id,
                remote_id = excluded.remote_id,
                title = excluded.title,
                score = excluded.score,
                status = excluded.status,
                last_progress = excluded.last_progress,
                total = excluded.total,
                started_at = excluded.started_at,
                finished_at = excluded.finished_at,
                updated_at = excluded.updated_at`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		base.ID, base.TrackerID, base.MediaID, base.RemoteID, base.Title, base.Score, base.Status,
		last, total, base.StartedAt, base.FinishedAt, base.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist %s %d: %w", s.table, base.ID, err)
	}
	return nil
}

// Delete removes the track. Pending markers that still point at it become stale and are
// cleaned up by the next reconciliation run.
func (s *TrackStore[T, PT]) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", s.table, id, err)
	}
	return nil
}
