package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/tz"
)

// Recover rebuilds dispatch state after a process start. It releases
// acquisitions orphaned by a crashed worker, then walks pending plans in
// the [today-1, today+7] window:
//
//   - a future notify instant is re-inserted at that exact instant
//   - a past instant within the grace window runs at now+offset with an
//     extended misfire grace
//   - anything older is finalized without dispatch, so a long outage
//     never produces a burst of stale pings
//   - a plan with no persisted instant gets one computed fresh and is
//     classified the same way
func (s *Scheduler) Recover(ctx context.Context) error {
	now := s.clock.NowUTC()

	released, err := s.jobs.ReleaseStaleJobs(ctx, now.Add(-s.staleAcquireTimeout))
	if err != nil {
		return fmt.Errorf("failed to release stale acquisitions: %w", err)
	}
	if released > 0 {
		slog.InfoContext(ctx, "released stale job acquisitions", "count", released)
	}

	today := domain.DateOf(now, time.UTC)
	from := today.AddDays(-recoveryLookbackDays)
	to := today.AddDays(recoveryLookaheadDays)

	pending, err := s.plans.ListPendingInRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to list pending plans: %w", err)
	}

	var scheduled, immediate, dropped int
	for _, p := range pending {
		notifyAt := p.NotifyAt
		if notifyAt == nil {
			loc := s.zones.EffectiveZone(ctx, p.UserID)
			computed := tz.LocalToUTC(loc, p.Date, p.StartTime)
			if err := s.plans.SetNotifySchedule(ctx, p.ID, &computed); err != nil {
				slog.ErrorContext(ctx, "recovery: failed to persist notify instant", "plan_id", p.ID, "error", err)
				continue
			}
			notifyAt = &computed
		}

		switch {
		case notifyAt.After(now):
			if err := s.insertJob(ctx, p.ID, *notifyAt, domain.DefaultMisfireGrace); err != nil {
				slog.ErrorContext(ctx, "recovery: failed to reinsert job", "plan_id", p.ID, "error", err)
				continue
			}
			scheduled++

		case now.Sub(*notifyAt) <= s.graceWindow:
			runAt := now.Add(s.immediateOffset)
			if err := s.insertJob(ctx, p.ID, runAt, domain.RecoveryMisfireGrace); err != nil {
				slog.ErrorContext(ctx, "recovery: failed to schedule immediate run", "plan_id", p.ID, "error", err)
				continue
			}
			immediate++

		default:
			if err := s.plans.MarkNotified(ctx, p.ID); err != nil {
				slog.ErrorContext(ctx, "recovery: failed to finalize stale plan", "plan_id", p.ID, "error", err)
				continue
			}
			if err := s.jobs.RemoveJob(ctx, domain.PlanJobID(p.ID)); err != nil {
				slog.ErrorContext(ctx, "recovery: failed to remove stale job", "plan_id", p.ID, "error", err)
			}
			dropped++
		}
	}

	slog.InfoContext(ctx, "startup recovery complete",
		"pending", len(pending), "rescheduled", scheduled, "immediate", immediate, "dropped", dropped)
	return nil
}
