package service

import (
	"context"
	"fmt"

	"trackresync/internal/domain"
	"trackresync/internal/events"
	"trackresync/internal/models"

	"github.com/rs/zerolog"
)

const (
	OutcomePushed   = "pushed"
	OutcomeDeferred = "deferred"
	OutcomeLocal    = "local"
)

type ProgressResult struct {
	ItemID  int64             `json:"item_id"`
	Kind    models.RecordKind `json:"kind"`
	Outcome string            `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// ProgressService records local progress and pushes it to the track's tracker. A push
// that cannot complete leaves a pending marker and asks for a reconciliation run.
type ProgressService struct {
	store     domain.PendingStore
	manga     domain.RecordRepository[models.MangaTrack]
	anime     domain.RecordRepository[models.AnimeTrack]
	trackers  domain.TrackerRegistry
	requester domain.RunRequester
	eventBus  *events.EventBus
	logger    *zerolog.Logger
}

func NewProgressService(
	store domain.PendingStore,
	manga domain.RecordRepository[models.MangaTrack],
	anime domain.RecordRepository[models.AnimeTrack],
	trackers domain.TrackerRegistry,
	requester domain.RunRequester,
	eventBus *events.EventBus,
	logger *zerolog.Logger,
) *ProgressService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ProgressService{
		store:     store,
		manga:     manga,
		anime:     anime,
		trackers:  trackers,
		requester: requester,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// RecordProgress accepts *models.MangaTrack or *models.AnimeTrack.
func (s *ProgressService) RecordProgress(ctx context.Context, record models.TrackRecord) (ProgressResult, error) {
	switch t := record.(type) {
	case *models.MangaTrack:
		return recordProgress(ctx, s, models.KindManga, s.manga, t, func(ctx context.Context, tr domain.Tracker) error {
			return tr.UpdateManga(ctx, t, false)
		})
	case *models.AnimeTrack:
		return recordProgress(ctx, s, models.KindAnime, s.anime, t, func(ctx context.Context, tr domain.Tracker) error {
			return tr.UpdateAnime(ctx, t, false)
		})
	default:
		return ProgressResult{}, fmt.Errorf("unsupported track type %T", record)
	}
}

type trackPtr[R any] interface {
	*R
	models.TrackRecord
}

func recordProgress[R any, PT trackPtr[R]](
	ctx context.Context,
	s *ProgressService,
	kind models.RecordKind,
	repo domain.RecordRepository[R],
	rec PT,
	push func(context.Context, domain.Tracker) error,
) (ProgressResult, error) {
	if err := repo.Persist(ctx, (*R)(rec)); err != nil {
		return ProgressResult{}, fmt.Errorf("save %s progress: %w", kind, err)
	}
	base := rec.Base()
	result := ProgressResult{ItemID: base.ID, Kind: kind, Outcome: OutcomeLocal}

	logger := s.logger.With().
		Str("kind", string(kind)).
		Int64("item_id", base.ID).
		Int64("tracker_id", base.TrackerID).
		Logger()

	tracker, ok := s.trackers.Resolve(base.TrackerID)
	if !ok || !tracker.IsAuthenticated() {
		logger.Debug().Msg("no authenticated tracker, progress kept locally")
		return result, nil
	}

	if err := push(ctx, tracker); err != nil {
		return s.deferPush(ctx, &logger, result, base.TrackerID, fmt.Errorf("update %s: %w", tracker.Name(), err))
	}
	if err := repo.Persist(ctx, (*R)(rec)); err != nil {
		return s.deferPush(ctx, &logger, result, base.TrackerID, fmt.Errorf("persist after update: %w", err))
	}

	result.Outcome = OutcomePushed
	return result, nil
}

func (s *ProgressService) deferPush(ctx context.Context, logger *zerolog.Logger, result ProgressResult, trackerID int64, cause error) (ProgressResult, error) {
	if err := s.store.Add(ctx, result.ItemID, result.Kind); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("failed to queue pending item")
		return result, fmt.Errorf("queue pending %s %d: %w", result.Kind, result.ItemID, err)
	}
	logger.Warn().Err(cause).Msg("live update failed, queued for resync")

	result.Outcome = OutcomeDeferred
	result.Error = cause.Error()

	_ = s.eventBus.PublishJSON(events.EventProgressDeferred, events.ProgressDeferredPayload{
		ItemID:    result.ItemID,
		Kind:      string(result.Kind),
		TrackerID: trackerID,
		Reason:    cause.Error(),
	})
	if s.requester != nil {
		s.requester.RequestRun("progress deferred")
	}
	return result, nil
}
