package reconcile

import (
	"context"
	"errors"
	"sync"

	"trackresync/internal/domain"
	"trackresync/internal/models"
	"trackresync/internal/repository"
)

var errBoom = errors.New("boom")

type recordPtr[R any] interface {
	*R
	models.TrackRecord
}

type fakeRepo[R any, PT recordPtr[R]] struct {
	mu         sync.Mutex
	records    map[int64]*R
	findErr    map[int64]error
	persistErr map[int64]error
	persisted  []int64
}

func newFakeRepo[R any, PT recordPtr[R]](records ...*R) *fakeRepo[R, PT] {
	r := &fakeRepo[R, PT]{
		records:    make(map[int64]*R),
		findErr:    make(map[int64]error),
		persistErr: make(map[int64]error),
	}
	for _, rec := range records {
		r.records[PT(rec).Base().ID] = rec
	}
	return r
}

func (r *fakeRepo[R, PT]) Find(_ context.Context, id int64) (*R, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.findErr[id]; err != nil {
		return nil, err
	}
	return r.records[id], nil
}

func (r *fakeRepo[R, PT]) Persist(_ context.Context, rec *R) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := PT(rec).Base().ID
	if err := r.persistErr[id]; err != nil {
		return err
	}
	r.records[id] = rec
	r.persisted = append(r.persisted, id)
	return nil
}

func (r *fakeRepo[R, PT]) persistCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.persisted)
}

type mangaRepo = fakeRepo[models.MangaTrack, *models.MangaTrack]
type animeRepo = fakeRepo[models.AnimeTrack, *models.AnimeTrack]

type pushCall struct {
	kind   models.RecordKind
	itemID int64
	resync bool
}

type fakeTracker struct {
	id   int64
	auth bool

	mu      sync.Mutex
	calls   []pushCall
	fail    map[int64]error
	panicOn map[int64]bool
	// remoteID, when set, is written to the track on success like a service assigning ids.
	remoteID int64
}

func newFakeTracker(id int64, auth bool) *fakeTracker {
	return &fakeTracker{id: id, auth: auth, fail: make(map[int64]error), panicOn: make(map[int64]bool)}
}

func (t *fakeTracker) ID() int64             { return t.id }
func (t *fakeTracker) Name() string          { return "fake" }
func (t *fakeTracker) IsAuthenticated() bool { return t.auth }

func (t *fakeTracker) UpdateManga(_ context.Context, track *models.MangaTrack, resync bool) error {
	return t.update(models.KindManga, &track.Track, resync)
}

func (t *fakeTracker) UpdateAnime(_ context.Context, track *models.AnimeTrack, resync bool) error {
	return t.update(models.KindAnime, &track.Track, resync)
}

func (t *fakeTracker) update(kind models.RecordKind, track *models.Track, resync bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, pushCall{kind: kind, itemID: track.ID, resync: resync})
	if t.panicOn[track.ID] {
		panic("tracker exploded")
	}
	if err := t.fail[track.ID]; err != nil {
		return err
	}
	if t.remoteID != 0 {
		track.RemoteID = t.remoteID
	}
	return nil
}

func (t *fakeTracker) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type fakeRegistry map[int64]domain.Tracker

func (r fakeRegistry) Resolve(id int64) (domain.Tracker, bool) {
	t, ok := r[id]
	return t, ok
}

// flakyStore fails List for the configured kinds.
type flakyStore struct {
	*repository.MemoryPendingStore
	listErr map[models.RecordKind]error
}

func (s *flakyStore) List(ctx context.Context, kind models.RecordKind) ([]models.PendingMarker, error) {
	if err := s.listErr[kind]; err != nil {
		return nil, err
	}
	return s.MemoryPendingStore.List(ctx, kind)
}

func manga(id, trackerID int64) *models.MangaTrack {
	return &models.MangaTrack{Track: models.Track{ID: id, TrackerID: trackerID, MediaID: id * 10}, LastChapterRead: float64(id)}
}

func anime(id, trackerID int64) *models.AnimeTrack {
	return &models.AnimeTrack{Track: models.Track{ID: id, TrackerID: trackerID, MediaID: id * 10}, LastEpisodeSeen: float64(id)}
}
