package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

// Start runs the pump and the dispatch pool until ctx is cancelled. The
// pump sleeps until the head job's run_at, an insert wakes it, or the
// poll interval elapses; due jobs are acquired and handed to the pool.
// On shutdown in-flight dispatches run to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "scheduler started",
		"worker_id", s.workerID, "pool_size", s.poolSize, "poll_interval", s.pollInterval)

	work := make(chan *domain.SchedulerJob)
	for i := 0; i < s.poolSize; i++ {
		s.wg.Go(func() {
			for job := range work {
				s.processJob(job)
			}
		})
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopping = true
			s.mu.Unlock()
			close(work)
			slog.InfoContext(ctx, "shutdown requested, waiting for in-flight dispatches...")
			s.asyncWG.Wait()
			s.wg.Wait()
			slog.InfoContext(ctx, "scheduler stopped gracefully")
			return nil
		case <-s.wake:
		case <-timer.C:
		}

		s.drainDue(ctx, work)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextSleep(ctx))
	}
}

// drainDue claims every due job and feeds it to the pool. Acquisition is
// exclusive, so a due job claimed by another process is skipped here.
func (s *Scheduler) drainDue(ctx context.Context, work chan<- *domain.SchedulerJob) {
	opCtx, cancel := context.WithTimeout(context.Background(), s.operationTimeout)
	due, err := s.jobs.DueJobs(opCtx, s.clock.NowUTC())
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "failed to read due jobs", "error", err)
		return
	}

	for _, job := range due {
		opCtx, cancel := context.WithTimeout(context.Background(), s.operationTimeout)
		acquired, err := s.jobs.AcquireJob(opCtx, job.JobID, s.workerID)
		cancel()
		if err != nil {
			slog.ErrorContext(ctx, "failed to acquire job", "job_id", job.JobID, "error", err)
			continue
		}
		if !acquired {
			continue
		}

		select {
		case work <- job:
		case <-ctx.Done():
			// Shutdown while handing off: release happens via the stale
			// acquisition sweep on the next recovery.
			return
		}
	}
}

// nextSleep computes how long the pump may sleep before the next head
// job is due, capped by the poll interval.
func (s *Scheduler) nextSleep(ctx context.Context) time.Duration {
	opCtx, cancel := context.WithTimeout(context.Background(), s.operationTimeout)
	defer cancel()

	next, err := s.jobs.NextRunAt(opCtx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read next run instant", "error", err)
		return s.pollInterval
	}
	if next == nil {
		return s.pollInterval
	}

	until := next.Sub(s.clock.NowUTC())
	if until < 0 {
		return 0
	}
	if until > s.pollInterval {
		return s.pollInterval
	}
	return until
}

// processJob runs one acquired job on a pool worker. A job past its
// misfire grace is finalized without dispatch; otherwise dispatch runs
// and the job completes regardless of delivery outcome, since the
// notified flag is the idempotency anchor and delivery is best-effort.
func (s *Scheduler) processJob(job *domain.SchedulerJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.operationTimeout)
	defer cancel()

	now := s.clock.NowUTC()
	if lag := now.Sub(job.RunAt); lag > job.MisfireGrace {
		slog.WarnContext(ctx, "job misfired beyond grace, finalizing without dispatch",
			"job_id", job.JobID, "lag", lag, "grace", job.MisfireGrace)
		if err := s.plans.MarkNotified(ctx, job.PlanID); err != nil {
			slog.ErrorContext(ctx, "failed to finalize misfired plan", "plan_id", job.PlanID, "error", err)
		}
	} else if err := s.dispatcher.Dispatch(ctx, job.PlanID); err != nil {
		slog.ErrorContext(ctx, "dispatch failed", "plan_id", job.PlanID, "error", err)
	}

	if err := s.jobs.CompleteJob(ctx, job.JobID); err != nil {
		slog.ErrorContext(ctx, "failed to complete job", "job_id", job.JobID, "error", err)
	}
}
