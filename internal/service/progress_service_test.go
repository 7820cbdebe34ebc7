package service

import (
	"context"
	"errors"
	"testing"

	"trackresync/internal/database"
	"trackresync/internal/domain"
	"trackresync/internal/events"
	"trackresync/internal/models"
	"trackresync/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Add(ctx context.Context, id int64, kind models.RecordKind) error {
	return m.Called(ctx, id, kind).Error(0)
}

func (m *mockStore) Remove(ctx context.Context, id int64, kind models.RecordKind) error {
	return m.Called(ctx, id, kind).Error(0)
}

func (m *mockStore) List(ctx context.Context, kind models.RecordKind) ([]models.PendingMarker, error) {
	args := m.Called(ctx, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PendingMarker), args.Error(1)
}

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RequestRun(reason string) {
	m.Called(reason)
}

type mockTracker struct {
	mock.Mock
	id   int64
	auth bool
}

func (m *mockTracker) ID() int64             { return m.id }
func (m *mockTracker) Name() string          { return "mock" }
func (m *mockTracker) IsAuthenticated() bool { return m.auth }

func (m *mockTracker) UpdateManga(ctx context.Context, t *models.MangaTrack, resync bool) error {
	return m.Called(ctx, t, resync).Error(0)
}

func (m *mockTracker) UpdateAnime(ctx context.Context, t *models.AnimeTrack, resync bool) error {
	return m.Called(ctx, t, resync).Error(0)
}

var _ domain.Tracker = (*mockTracker)(nil)

type fixture struct {
	db        *database.DB
	store     *mockStore
	requester *mockRequester
	tracker   *mockTracker
	bus       *events.EventBus
	svc       *ProgressService
}

func newFixture(t *testing.T, auth bool) *fixture {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:        db,
		store:     &mockStore{},
		requester: &mockRequester{},
		tracker:   &mockTracker{id: 1, auth: auth},
		bus:       events.NewEventBus(),
	}
	f.svc = NewProgressService(f.store, db.MangaTracks(), db.AnimeTracks(),
		tracker.NewRegistry(f.tracker), f.requester, f.bus, nil)
	return f
}

func TestRecordProgress_Pushed(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	track := &models.MangaTrack{Track: models.Track{TrackerID: 1, MediaID: 10}, LastChapterRead: 3}
	f.tracker.On("UpdateManga", ctx, track, false).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*models.MangaTrack).RemoteID = 55
	})

	res, err := f.svc.RecordProgress(ctx, track)
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, res.Outcome)
	assert.NotZero(t, res.ItemID)

	stored, err := f.db.MangaTracks().Find(ctx, res.ItemID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(55), stored.RemoteID)
	assert.Equal(t, 3.0, stored.LastChapterRead)

	f.tracker.AssertExpectations(t)
	f.store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
	f.requester.AssertNotCalled(t, "RequestRun", mock.Anything)
}

func TestRecordProgress_DeferredOnPushFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var deferred events.ProgressDeferredPayload
	f.bus.Subscribe(events.EventProgressDeferred, func(e *events.Event) error { return e.Decode(&deferred) })

	track := &models.AnimeTrack{Track: models.Track{TrackerID: 1, MediaID: 10}, LastEpisodeSeen: 7}
	f.tracker.On("UpdateAnime", ctx, track, false).Return(errors.New("offline"))
	f.store.On("Add", ctx, mock.AnythingOfType("int64"), models.KindAnime).Return(nil)
	f.requester.On("RequestRun", "progress deferred").Return()

	res, err := f.svc.RecordProgress(ctx, track)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Error, "offline")

	stored, err := f.db.AnimeTracks().Find(ctx, res.ItemID)
	require.NoError(t, err)
	require.NotNil(t, stored, "local progress is kept even when the push fails")
	assert.Equal(t, 7.0, stored.LastEpisodeSeen)

	f.store.AssertCalled(t, "Add", ctx, res.ItemID, models.KindAnime)
	f.requester.AssertExpectations(t)
	assert.Equal(t, res.ItemID, deferred.ItemID)
	assert.Equal(t, "anime", deferred.Kind)
	assert.Equal(t, int64(1), deferred.TrackerID)
}

func TestRecordProgress_QueueFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	track := &models.MangaTrack{Track: models.Track{TrackerID: 1, MediaID: 10}}
	f.tracker.On("UpdateManga", ctx, track, false).Return(errors.New("offline"))
	f.store.On("Add", ctx, mock.AnythingOfType("int64"), models.KindManga).Return(errors.New("disk full"))

	_, err := f.svc.RecordProgress(ctx, track)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	f.requester.AssertNotCalled(t, "RequestRun", mock.Anything)
}

func TestRecordProgress_UnauthenticatedStaysLocal(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	track := &models.MangaTrack{Track: models.Track{TrackerID: 1, MediaID: 10}}
	res, err := f.svc.RecordProgress(ctx, track)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocal, res.Outcome)

	f.tracker.AssertNotCalled(t, "UpdateManga", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordProgress_UnknownTracker(t *testing.T) {
	f := newFixture(t, true)

	track := &models.AnimeTrack{Track: models.Track{TrackerID: 42, MediaID: 10}}
	res, err := f.svc.RecordProgress(context.Background(), track)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocal, res.Outcome)
}

type otherTrack struct{ models.Track }

func (o *otherTrack) Base() *models.Track        { return &o.Track }
func (o *otherTrack) Progress() (float64, int64) { return 0, 0 }
func (o *otherTrack) SetProgress(float64, int64) {}

func TestRecordProgress_UnsupportedType(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.RecordProgress(context.Background(), &otherTrack{})
	assert.Error(t, err)
}
