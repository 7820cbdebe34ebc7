package domain

import (
	"context"
	"errors"

	"trackresync/internal/models"
)

var (
	ErrTrackerUnavailable = errors.New("tracker unavailable")
	ErrNotAuthenticated   = errors.New("tracker not authenticated")
)

// PendingStore is the durable set of pending reconciliation markers.
type PendingStore interface {
	// Add is idempotent.
	Add(ctx context.Context, itemID int64, kind models.RecordKind) error
	// Remove is idempotent; removing an absent marker is not an error.
	Remove(ctx context.Context, itemID int64, kind models.RecordKind) error
	// List returns a snapshot of the markers of one kind taken at call time.
	List(ctx context.Context, kind models.RecordKind) ([]models.PendingMarker, error)
}

// RecordRepository looks up and persists local tracks of one kind.
// Find returns (nil, nil) when the record does not exist.
type RecordRepository[R any] interface {
	Find(ctx context.Context, id int64) (*R, error)
	Persist(ctx context.Context, record *R) error
}

// Tracker is a capability handle for one external tracking service.
// Update calls with resync=true announce a catch-up push rather than a live event.
type Tracker interface {
	ID() int64
	Name() string
	IsAuthenticated() bool
	UpdateManga(ctx context.Context, track *models.MangaTrack, resync bool) error
	UpdateAnime(ctx context.Context, track *models.AnimeTrack, resync bool) error
}

// TrackerRegistry resolves a tracker id to its handle.
type TrackerRegistry interface {
	Resolve(trackerID int64) (Tracker, bool)
}

// RunRequester asks for a reconciliation run.
type RunRequester interface {
	RequestRun(reason string)
}
