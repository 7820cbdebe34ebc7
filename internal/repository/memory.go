package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trackresync/internal/models"
)

// MemoryPendingStore is a process-local pending store. It does not survive restarts and is
// meant for development and as a test double.
type MemoryPendingStore struct {
	mu      sync.Mutex
	markers map[string]models.PendingMarker
	now     func() time.Time
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		markers: make(map[string]models.PendingMarker),
		now:     time.Now,
	}
}

func (r *MemoryPendingStore) Add(_ context.Context, itemID int64, kind models.RecordKind) error {
	if !kind.Valid() {
		return fmt.Errorf("add pending marker: unknown kind %q", kind)
	}
	m := models.PendingMarker{ItemID: itemID, Kind: kind}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markers[m.Key()]; ok {
		return nil
	}
	m.CreatedAt = r.now()
	r.markers[m.Key()] = m
	return nil
}

func (r *MemoryPendingStore) Remove(_ context.Context, itemID int64, kind models.RecordKind) error {
	m := models.PendingMarker{ItemID: itemID, Kind: kind}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, m.Key())
	return nil
}

func (r *MemoryPendingStore) List(_ context.Context, kind models.RecordKind) ([]models.PendingMarker, error) {
	r.mu.Lock()
	out := make([]models.PendingMarker, 0, len(r.markers))
	for _, m := range r.markers {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// Len returns the number of markers across all kinds.
func (r *MemoryPendingStore) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}
