// Package reconcile drains pending markers against the external trackers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trackresync/internal/domain"
	"trackresync/internal/events"
	"trackresync/internal/metrics"
	"trackresync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Reconciler applies the per-item policy to every pending marker:
//
//	record absent                      -> remove marker (stale)
//	tracker absent or unauthenticated  -> remove marker (dropped)
//	resync push and persist succeed    -> remove marker (synced)
//	any fault                          -> keep marker, log it
//
// Item faults never surface from Run; only a failure to list markers does.
type Reconciler struct {
	store       domain.PendingStore
	trackers    domain.TrackerRegistry
	manga       pipeline[models.MangaTrack]
	anime       pipeline[models.AnimeTrack]
	concurrency int
	logger      *zerolog.Logger
	bus         *events.EventBus
	now         func() time.Time
}

type Option func(*Reconciler)

// WithConcurrency bounds how many items of one kind are processed at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventBus publishes a run_finished event after each run.
func WithEventBus(bus *events.EventBus) Option {
	return func(r *Reconciler) { r.bus = bus }
}

func New(
	store domain.PendingStore,
	manga domain.RecordRepository[models.MangaTrack],
	anime domain.RecordRepository[models.AnimeTrack],
	trackers domain.TrackerRegistry,
	opts ...Option,
) *Reconciler {
	nop := zerolog.Nop()
	r := &Reconciler{
		store:    store,
		trackers: trackers,
		manga: pipeline[models.MangaTrack]{
			kind:      models.KindManga,
			repo:      manga,
			trackerID: func(t *models.MangaTrack) int64 { return t.TrackerID },
			push: func(ctx context.Context, t domain.Tracker, rec *models.MangaTrack) error {
				return t.UpdateManga(ctx, rec, true)
			},
		},
		anime: pipeline[models.AnimeTrack]{
			kind:      models.KindAnime,
			repo:      anime,
			trackerID: func(t *models.AnimeTrack) int64 { return t.TrackerID },
			push: func(ctx context.Context, t domain.Tracker, rec *models.AnimeTrack) error {
				return t.UpdateAnime(ctx, rec, true)
			},
		},
		concurrency: 1,
		logger:      &nop,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains both record kinds. Each kind is processed even if the other could not be
// listed; the returned error joins the listing failures.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	report := Report{
		RunID:   uuid.NewString(),
		Started: r.now(),
		Kinds:   make(map[models.RecordKind]KindReport, len(models.RecordKinds)),
	}
	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().Msg("reconciliation run started")

	var errs []error
	drains := []struct {
		kind models.RecordKind
		fn   func(context.Context, *Reconciler, *zerolog.Logger) (KindReport, error)
	}{
		{models.KindManga, r.manga.drain},
		{models.KindAnime, r.anime.drain},
	}
	for _, d := range drains {
		kr, err := d.fn(ctx, r, &logger)
		if err != nil {
			kr.Error = err.Error()
			errs = append(errs, err)
		} else {
			metrics.SetPending(string(d.kind), kr.Retained)
		}
		report.Kinds[d.kind] = kr
	}
	report.Finished = r.now()
	err := errors.Join(errs...)

	result := "ok"
	if err != nil {
		result = "failed"
	}
	metrics.ObserveRun(result, report.Duration().Seconds())

	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	for kind, kr := range report.Kinds {
		ev = ev.Dict(string(kind), zerolog.Dict().
			Int("synced", kr.Synced).
			Int("stale", kr.Stale).
			Int("dropped", kr.Dropped).
			Int("retained", kr.Retained))
	}
	ev.Dur("duration", report.Duration()).Msg("reconciliation run finished")

	if pubErr := r.bus.PublishJSON(events.EventRunFinished, events.RunFinishedPayload{
		RunID:    report.RunID,
		Synced:   report.Synced(),
		Retained: report.Retained(),
		Failed:   err != nil,
	}); pubErr != nil {
		logger.Warn().Err(pubErr).Msg("failed to publish run_finished")
	}

	return report, err
}

// pipeline is the per-kind capability set the item policy is written against.
type pipeline[R any] struct {
	kind      models.RecordKind
	repo      domain.RecordRepository[R]
	trackerID func(*R) int64
	push      func(context.Context, domain.Tracker, *R) error
}

func (p pipeline[R]) drain(ctx context.Context, r *Reconciler, parent *zerolog.Logger) (KindReport, error) {
	logger := parent.With().Str("kind", string(p.kind)).Logger()

	markers, err := r.store.List(ctx, p.kind)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list pending markers")
		return KindReport{}, fmt.Errorf("list %s markers: %w", p.kind, err)
	}

	report := KindReport{Listed: len(markers)}
	if len(markers) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		report.add(o)
		mu.Unlock()
		metrics.ObserveItem(string(p.kind), o.String())
	}

	if r.concurrency <= 1 {
		for _, m := range markers {
			record(p.handle(ctx, r, &logger, m))
		}
		return report, nil
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, m := range markers {
		g.Go(func() error {
			record(p.handle(ctx, r, &logger, m))
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// handle decides the outcome of one marker and removes it unless it is retained.
func (p pipeline[R]) handle(ctx context.Context, r *Reconciler, parent *zerolog.Logger, m models.PendingMarker) outcome {
	logger := parent.With().Int64("item_id", m.ItemID).Logger()

	if ctx.Err() != nil {
		return outcomeRetained
	}

	o, trackerID, err := p.reconcile(ctx, r.trackers, m.ItemID)
	if err != nil {
		logger.Error().Err(err).Int64("tracker_id", trackerID).Msg("pending item kept for next run")
		return outcomeRetained
	}

	switch o {
	case outcomeStale:
		logger.Debug().Msg("record no longer exists, removing marker")
	case outcomeDropped:
		logger.Debug().Int64("tracker_id", trackerID).Msg("tracker missing or not authenticated, dropping marker")
	case outcomeSynced:
		logger.Debug().Int64("tracker_id", trackerID).Msg("item resynced")
	}

	if err := r.store.Remove(ctx, m.ItemID, p.kind); err != nil {
		logger.Error().Err(err).Str("outcome", o.String()).Msg("failed to remove pending marker")
		return outcomeRetained
	}
	return o
}

// reconcile runs the item body inside a fault boundary: errors and panics both yield
// outcomeRetained with a non-nil error.
func (p pipeline[R]) reconcile(ctx context.Context, trackers domain.TrackerRegistry, itemID int64) (o outcome, trackerID int64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o, err = outcomeRetained, fmt.Errorf("panic: %v", rec)
		}
	}()

	record, err := p.repo.Find(ctx, itemID)
	if err != nil {
		return outcomeRetained, 0, fmt.Errorf("find: %w", err)
	}
	if record == nil {
		return outcomeStale, 0, nil
	}

	trackerID = p.trackerID(record)
	tracker, ok := trackers.Resolve(trackerID)
	if !ok || tracker == nil || !tracker.IsAuthenticated() {
		return outcomeDropped, trackerID, nil
	}

	if err := p.push(ctx, tracker, record); err != nil {
		return outcomeRetained, trackerID, fmt.Errorf("update %s: %w", tracker.Name(), err)
	}
	if err := p.repo.Persist(ctx, record); err != nil {
		return outcomeRetained, trackerID, fmt.Errorf("persist: %w", err)
	}
	return outcomeSynced, trackerID, nil
}
