package repository

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"trackresync/internal/domain"
	"trackresync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverPendingStore writes markers to primary and falls back to a second store while the
// primary is failing. Reads merge both stores so markers written during an outage are still
// drained once the primary recovers. A removal succeeds only when both stores dropped the marker.
type FailoverPendingStore struct {
	primary   domain.PendingStore
	fallback  domain.PendingStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverPendingStore(primary, fallback domain.PendingStore, logger *zerolog.Logger) *FailoverPendingStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverPendingStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverPendingStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("primary pending store failed, falling back")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

// usePrimary reports whether the primary should be tried: it is healthy, or it has been
// down long enough to deserve another attempt.
func (r *FailoverPendingStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverPendingStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("primary pending store recovered")
	}
}

func (r *FailoverPendingStore) Add(ctx context.Context, itemID int64, kind models.RecordKind) error {
	if r.usePrimary() {
		err := r.primary.Add(ctx, itemID, kind)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Add(ctx, itemID, kind)
}

// Remove clears the marker from both stores. The primary is always tried, even while it is
// marked down; if it cannot confirm the removal the marker is kept in both stores and the
// error is returned, so a later run resolves it again instead of finding it resurrected.
func (r *FailoverPendingStore) Remove(ctx context.Context, itemID int64, kind models.RecordKind) error {
	if err := r.primary.Remove(ctx, itemID, kind); err != nil {
		r.markDown(err)
		return fmt.Errorf("remove from primary: %w", err)
	}
	r.markUp()

	if err := r.fallback.Remove(ctx, itemID, kind); err != nil {
		return fmt.Errorf("remove from fallback: %w", err)
	}
	return nil
}

func (r *FailoverPendingStore) List(ctx context.Context, kind models.RecordKind) ([]models.PendingMarker, error) {
	fallback, err := r.fallback.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list fallback: %w", err)
	}

	var primary []models.PendingMarker
	if r.usePrimary() {
		primary, err = r.primary.List(ctx, kind)
		if err != nil {
			r.markDown(err)
			primary = nil
		} else {
			r.markUp()
		}
	}

	seen := make(map[int64]bool, len(primary)+len(fallback))
	merged := make([]models.PendingMarker, 0, len(primary)+len(fallback))
	for _, m := range append(primary, fallback...) {
		if seen[m.ItemID] {
			continue
		}
		seen[m.ItemID] = true
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ItemID < merged[j].ItemID })
	return merged, nil
}
