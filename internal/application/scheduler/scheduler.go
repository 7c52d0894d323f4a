package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/tz"
)

// Defaults for the scheduler's timing knobs.
const (
	DefaultPoolSize            = 10
	DefaultGraceWindow         = 24 * time.Hour
	DefaultImmediateOffset     = 5 * time.Second
	DefaultPollInterval        = 30 * time.Second
	DefaultOperationTimeout    = 60 * time.Second
	DefaultStaleAcquireTimeout = 10 * time.Minute

	// Recovery scans pending plans from yesterday through a week out;
	// cascade reschedules look 30 days ahead.
	recoveryLookbackDays  = 1
	recoveryLookaheadDays = 7
	cascadeHorizonDays    = 30
)

// Scheduler binds plans to durable jobs and runs the dispatch pump. One
// logical pump watches for due jobs; dispatch runs on a fixed pool.
type Scheduler struct {
	jobs       JobStore
	plans      PlanStore
	zones      ZoneResolver
	dispatcher Dispatcher
	clock      tz.Clock

	poolSize            int
	graceWindow         time.Duration
	immediateOffset     time.Duration
	pollInterval        time.Duration
	operationTimeout    time.Duration
	staleAcquireTimeout time.Duration

	workerID string
	wake     chan struct{}
	wg       sync.WaitGroup

	// asyncWG tracks background reschedules separately from the pool
	// workers. mu guards stopping so no asyncWG.Go races the final Wait.
	asyncWG  sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

// Option is a functional option for configuring Scheduler.
type Option func(*Scheduler)

// WithPoolSize sets the dispatch worker pool size.
func WithPoolSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithGraceWindow sets how far in the past a recovered job may lie and
// still be dispatched.
func WithGraceWindow(d time.Duration) Option {
	return func(s *Scheduler) { s.graceWindow = d }
}

// WithImmediateOffset sets the delay applied to grace-window recovery
// runs.
func WithImmediateOffset(d time.Duration) Option {
	return func(s *Scheduler) { s.immediateOffset = d }
}

// WithPollInterval caps how long the pump sleeps without re-reading the
// job store, so jobs inserted by other processes are noticed.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithOperationTimeout bounds individual storage and dispatch operations.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.operationTimeout = d }
}

// WithStaleAcquireTimeout sets how old an acquisition must be before
// recovery releases it.
func WithStaleAcquireTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.staleAcquireTimeout = d }
}

// New creates a Scheduler with the given collaborators and options.
func New(jobs JobStore, plans PlanStore, zones ZoneResolver, dispatcher Dispatcher, clock tz.Clock, opts ...Option) *Scheduler {
	hostname, _ := os.Hostname()
	s := &Scheduler{
		jobs:                jobs,
		plans:               plans,
		zones:               zones,
		dispatcher:          dispatcher,
		clock:               clock,
		poolSize:            DefaultPoolSize,
		graceWindow:         DefaultGraceWindow,
		immediateOffset:     DefaultImmediateOffset,
		pollInterval:        DefaultPollInterval,
		operationTimeout:    DefaultOperationTimeout,
		staleAcquireTimeout: DefaultStaleAcquireTimeout,
		workerID:            fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		wake:                make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule computes the plan's notify instant in the user's effective
// zone, persists it, and inserts the dispatch job when the instant is in
// the future. Past instants are left to recovery's grace rules.
func (s *Scheduler) Schedule(ctx context.Context, p *domain.Plan) error {
	loc := s.zones.EffectiveZone(ctx, p.UserID)
	notifyAt := tz.LocalToUTC(loc, p.Date, p.StartTime)

	if err := s.plans.SetNotifySchedule(ctx, p.ID, &notifyAt); err != nil {
		return fmt.Errorf("failed to persist notify instant: %w", err)
	}
	p.NotifyAt = &notifyAt

	if !notifyAt.After(s.clock.NowUTC()) {
		return nil
	}
	return s.insertJob(ctx, p.ID, notifyAt, domain.DefaultMisfireGrace)
}

// Cancel removes the plan's job if one exists.
func (s *Scheduler) Cancel(ctx context.Context, planID string) error {
	if err := s.jobs.RemoveJob(ctx, domain.PlanJobID(planID)); err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	return nil
}

// RescheduleUser re-binds every pending plan of uid after a timezone or
// notification-setting change. Always re-reads settings through the zone
// resolver so it composes with concurrent writes.
func (s *Scheduler) RescheduleUser(ctx context.Context, uid string) error {
	today := domain.DateOf(s.clock.NowUTC(), time.UTC)
	from := today.AddDays(-recoveryLookbackDays)
	to := today.AddDays(cascadeHorizonDays)

	pending, err := s.plans.ListPendingForUser(ctx, uid, from, to)
	if err != nil {
		return fmt.Errorf("failed to list pending plans: %w", err)
	}

	for _, p := range pending {
		if err := s.Cancel(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "cascade: failed to cancel job", "plan_id", p.ID, "error", err)
			continue
		}
		if err := s.Schedule(ctx, p); err != nil {
			slog.ErrorContext(ctx, "cascade: failed to reschedule plan", "plan_id", p.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "rescheduled pending plans", "uid", uid, "count", len(pending))
	return nil
}

// RescheduleUserAsync runs RescheduleUser off the request path. Errors
// are logged; the triggering mutation already succeeded. Once shutdown
// has begun the work runs inline on the caller instead, so no goroutine
// is spawned after the final Wait.
func (s *Scheduler) RescheduleUserAsync(uid string) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.operationTimeout)
		defer cancel()
		if err := s.RescheduleUser(ctx, uid); err != nil {
			slog.ErrorContext(ctx, "async reschedule failed", "uid", uid, "error", err)
		}
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		run()
		return
	}
	s.asyncWG.Go(run)
	s.mu.Unlock()
}

// insertJob upserts the job row and wakes the pump so an earlier head is
// picked up without waiting out the current sleep.
func (s *Scheduler) insertJob(ctx context.Context, planID string, runAt time.Time, grace time.Duration) error {
	job := &domain.SchedulerJob{
		JobID:        domain.PlanJobID(planID),
		RunAt:        runAt,
		PlanID:       planID,
		MisfireGrace: grace,
	}
	if err := s.jobs.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	s.notifyWake()
	return nil
}

func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
