package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trackresync/internal/metrics"
	"trackresync/internal/models"
	"trackresync/internal/reconcile"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrSchedulerStopped = errors.New("scheduler stopped")

// Runner executes one reconciliation run.
type Runner interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Gate blocks until the network is available.
type Gate interface {
	WaitOnline(ctx context.Context) error
}

// Request is a queued reconciliation run.
type Request struct {
	ID        string    `json:"id"`
	Tag       string    `json:"tag"`
	Reason    string    `json:"reason"`
	Attempt   int       `json:"attempt"`
	Enqueued  time.Time `json:"enqueued"`
	NotBefore time.Time `json:"not_before"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Active     bool              `json:"active"`
	Pending    *Request          `json:"pending,omitempty"`
	Running    *Request          `json:"running,omitempty"`
	Dispatched int64             `json:"dispatched"`
	LastReport *reconcile.Report `json:"last_report,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
}

// Scheduler holds at most one queued request. A new request replaces the queued one,
// never the one that is running. Runs start only once the gate reports the network as
// available, and a run that fails to execute is re-queued with exponential backoff.
type Scheduler struct {
	runner Runner
	gate   Gate
	retry  RetryPolicy
	logger *zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	pending    *Request
	running    *Request
	lastReport *reconcile.Report
	lastErr    error

	wake       chan struct{}
	active     atomic.Bool
	dispatched atomic.Int64
}

func NewScheduler(runner Runner, gate Gate, retry RetryPolicy, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		runner: runner,
		gate:   gate,
		retry:  retry,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// RequestRun queues a run, replacing any request that has not started yet.
func (s *Scheduler) RequestRun(reason string) {
	now := s.now()
	req := &Request{
		ID:        uuid.NewString(),
		Tag:       models.ResyncJobTag,
		Reason:    reason,
		Enqueued:  now,
		NotBefore: now,
	}

	s.mu.Lock()
	replaced := s.pending
	s.pending = req
	s.mu.Unlock()

	ev := s.logger.Debug().Str("request_id", req.ID).Str("reason", reason)
	if replaced != nil {
		ev = ev.Str("replaced", replaced.ID)
	}
	ev.Msg("reconciliation requested")
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.active.Store(true)
	defer s.active.Store(false)
	s.logger.Info().Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	for {
		req, err := s.next(ctx)
		if err != nil {
			return ErrSchedulerStopped
		}
		s.dispatch(ctx, req)
	}
}

// next blocks until a queued request is due and the network is available, then claims it.
func (s *Scheduler) next(ctx context.Context) (*Request, error) {
	for {
		s.mu.Lock()
		req := s.pending
		s.mu.Unlock()

		if req == nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.wake:
				continue
			}
		}

		if wait := req.NotBefore.Sub(s.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		if s.gate != nil {
			if err := s.gate.WaitOnline(ctx); err != nil {
				return nil, err
			}
		}

		s.mu.Lock()
		claimed := s.pending
		if claimed == nil || claimed.NotBefore.After(s.now()) {
			s.mu.Unlock()
			continue
		}
		s.pending = nil
		s.running = claimed
		s.mu.Unlock()
		return claimed, nil
	}
}

func (s *Scheduler) dispatch(ctx context.Context, req *Request) {
	logger := s.logger.With().Str("request_id", req.ID).Int("attempt", req.Attempt).Logger()
	logger.Info().Str("reason", req.Reason).Msg("dispatching reconciliation run")
	s.dispatched.Add(1)

	report, err := s.safeRun(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = nil
	s.lastErr = err
	if err == nil {
		s.lastReport = &report
		return
	}
	if report.RunID != "" {
		s.lastReport = &report
	}

	if ctx.Err() != nil {
		return
	}
	if s.pending != nil {
		logger.Warn().Err(err).Str("superseded_by", s.pending.ID).Msg("reconciliation run failed, newer request already queued")
		return
	}
	attempt := req.Attempt + 1
	if s.retry.Exhausted(req.Attempt) {
		logger.Error().Err(err).Msg("reconciliation run failed, retries exhausted")
		return
	}

	delay := s.retry.NextDelay(attempt)
	now := s.now()
	s.pending = &Request{
		ID:        uuid.NewString(),
		Tag:       req.Tag,
		Reason:    "retry",
		Attempt:   attempt,
		Enqueued:  now,
		NotBefore: now.Add(delay),
	}
	metrics.IncDispatchRetry()
	logger.Warn().Err(err).Dur("backoff", delay).Msg("reconciliation run failed, retry scheduled")
	s.signal()
}

// safeRun turns a panicking runner into a dispatch failure.
func (s *Scheduler) safeRun(ctx context.Context) (report reconcile.Report, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reconciliation panicked: %v", rec)
		}
	}()
	return s.runner.Run(ctx)
}

// Active reports whether the dispatch loop is running.
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

func (s *Scheduler) LastReport() *reconcile.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Active:     s.active.Load(),
		Dispatched: s.dispatched.Load(),
		LastReport: s.lastReport,
	}
	if s.pending != nil {
		p := *s.pending
		st.Pending = &p
	}
	if s.running != nil {
		r := *s.running
		st.Running = &r
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
