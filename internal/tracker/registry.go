// Package tracker resolves tracker ids to the clients that push progress to external
// tracking services.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trackresync/internal/config"
	"trackresync/internal/domain"

	"github.com/rs/zerolog"
)

// Registry maps tracker ids to tracker handles. Handles are resolved on every use and are
// never persisted.
type Registry struct {
	mu       sync.RWMutex
	trackers map[int64]domain.Tracker
}

func NewRegistry(trackers ...domain.Tracker) *Registry {
	r := &Registry{trackers: make(map[int64]domain.Tracker, len(trackers))}
	for _, t := range trackers {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the tracker with the same id.
func (r *Registry) Register(t domain.Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[t.ID()] = t
}

func (r *Registry) Resolve(trackerID int64) (domain.Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[trackerID]
	return t, ok
}

// All returns the registered trackers ordered by id.
func (r *Registry) All() []domain.Tracker {
	r.mu.RLock()
	out := make([]domain.Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Build creates a tracker per config entry. A sheets tracker whose credentials cannot be
// loaded is still registered, unauthenticated, so its markers follow the drop policy.
func Build(ctx context.Context, cfgs []config.TrackerConfig, logger *zerolog.Logger) (*Registry, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	registry := NewRegistry()
	for _, cfg := range cfgs {
		switch cfg.Type {
		case config.TrackerTypeREST, "":
			registry.Register(NewRESTTracker(ctx, cfg))
		case config.TrackerTypeSheets:
			t, err := NewSheetsTracker(ctx, cfg)
			if err != nil {
				logger.Warn().Err(err).Int64("tracker_id", cfg.ID).Msg("google sheets tracker not authenticated")
			}
			registry.Register(t)
		default:
			return nil, fmt.Errorf("tracker %d: unknown type %q", cfg.ID, cfg.Type)
		}
		logger.Info().Int64("tracker_id", cfg.ID).Str("name", cfg.Name).Str("type", cfg.Type).Msg("tracker registered")
	}
	return registry, nil
}
