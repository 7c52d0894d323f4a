package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/tz"
)

// Service provides business logic for plan management. Mutations run the
// overlap check inside a transaction; scheduling side effects run after
// commit and are best-effort.
type Service struct {
	repo     Repository
	settings SettingsReader
	notifier Notifier
	clock    tz.Clock
}

// NewService creates a new plan service.
func NewService(repo Repository, settings SettingsReader, notifier Notifier, clock tz.Clock) *Service {
	return &Service{
		repo:     repo,
		settings: settings,
		notifier: notifier,
		clock:    clock,
	}
}

// Create validates the draft, enforces tier and overlap invariants, and
// persists a new plan. Scheduling the notification happens after commit.
func (s *Service) Create(ctx context.Context, uid string, draft domain.PlanDraft) (*domain.Plan, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	settings, err := s.loadSettings(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := s.checkTierLimit(settings, draft.Date); err != nil {
		return nil, err
	}

	idObj, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	now := s.clock.NowUTC()
	p := &domain.Plan{
		ID:          idObj.String(),
		UserID:      uid,
		Date:        draft.Date,
		StartTime:   draft.StartTime,
		EndTime:     draft.EndTime,
		Title:       draft.Title,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.repo.Atomic(ctx, func(tx Repository) error {
		conflicts, err := tx.FindOverlapping(ctx, uid, p.Date, p.StartTime, p.EffectiveEnd(), "")
		if err != nil {
			return fmt.Errorf("overlap check failed: %w", err)
		}
		if len(conflicts) > 0 {
			return &domain.ConflictError{PlanIDs: planIDs(conflicts)}
		}
		return tx.CreatePlan(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.scheduleAfterWrite(ctx, settings, p)
	return p, nil
}

// Get retrieves a plan owned by uid.
func (s *Service) Get(ctx context.Context, uid, planID string) (*domain.Plan, error) {
	p, err := s.repo.FindPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.UserID != uid {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

// ListByRange returns the user's plans with date in [from, to], ordered
// by (date, start_time). Reads are not tier-limited.
func (s *Service) ListByRange(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	if from.After(to) {
		return nil, domain.ErrInvalidRange
	}
	plans, err := s.repo.ListPlansByRange(ctx, uid, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// Update applies the draft to an existing plan. The notified flag resets
// unconditionally; a plan moved into the past simply never gets a new
// job because Schedule no-ops on past instants. With force, colliding
// plans are deleted in the same transaction and their jobs cancelled
// after commit.
func (s *Service) Update(ctx context.Context, uid, planID string, draft domain.PlanDraft, force bool) (*domain.Plan, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	settings, err := s.loadSettings(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := s.checkTierLimit(settings, draft.Date); err != nil {
		return nil, err
	}

	var updated *domain.Plan
	var displaced []string

	err = s.repo.Atomic(ctx, func(tx Repository) error {
		p, err := tx.FindPlanByID(ctx, planID)
		if err != nil {
			return err
		}
		if p.UserID != uid {
			return domain.ErrForbidden
		}

		conflicts, err := tx.FindOverlapping(ctx, uid, draft.Date, draft.StartTime, draftEnd(draft), planID)
		if err != nil {
			return fmt.Errorf("overlap check failed: %w", err)
		}
		if len(conflicts) > 0 {
			if !force {
				return &domain.ConflictError{PlanIDs: planIDs(conflicts)}
			}
			for _, c := range conflicts {
				if err := tx.DeletePlan(ctx, c.ID); err != nil {
					return fmt.Errorf("failed to delete colliding plan %s: %w", c.ID, err)
				}
				displaced = append(displaced, c.ID)
			}
		}

		p.Date = draft.Date
		p.StartTime = draft.StartTime
		p.EndTime = draft.EndTime
		p.Title = draft.Title
		p.Description = draft.Description
		p.Notified = false
		p.NotifyAt = nil
		p.UpdatedAt = s.clock.NowUTC()

		if err := tx.UpdatePlan(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range displaced {
		if err := s.notifier.Cancel(ctx, id); err != nil {
			slog.ErrorContext(ctx, "failed to cancel job for displaced plan", "plan_id", id, "error", err)
		}
	}

	if err := s.notifier.Cancel(ctx, updated.ID); err != nil {
		slog.ErrorContext(ctx, "failed to cancel job before reschedule", "plan_id", updated.ID, "error", err)
	}
	s.scheduleAfterWrite(ctx, settings, updated)

	return updated, nil
}

// Delete removes a plan owned by uid and cancels its job.
func (s *Service) Delete(ctx context.Context, uid, planID string) error {
	err := s.repo.Atomic(ctx, func(tx Repository) error {
		p, err := tx.FindPlanByID(ctx, planID)
		if err != nil {
			return err
		}
		if p.UserID != uid {
			return domain.ErrForbidden
		}
		return tx.DeletePlan(ctx, planID)
	})
	if err != nil {
		return err
	}

	if err := s.notifier.Cancel(ctx, planID); err != nil {
		slog.ErrorContext(ctx, "failed to cancel job for deleted plan", "plan_id", planID, "error", err)
	}
	return nil
}

// loadSettings tolerates a missing row: a user who has never touched
// settings gets the defaults.
func (s *Service) loadSettings(ctx context.Context, uid string) (*domain.UserSettings, error) {
	settings, err := s.settings.GetSettings(ctx, uid)
	if errors.Is(err, domain.ErrSettingsNotFound) {
		return domain.NewUserSettings(uid, s.clock.NowUTC()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

func (s *Service) checkTierLimit(settings *domain.UserSettings, date domain.Date) error {
	now := s.clock.NowUTC()
	level := settings.EffectiveSubscription(now)
	limit := domain.DateOf(now, time.UTC).AddDays(level.HorizonDays())
	if date.After(limit) {
		return &domain.TierLimitError{Level: level, LimitDate: limit}
	}
	return nil
}

// scheduleAfterWrite fires the post-commit scheduling trigger. Past dates
// and disabled notifications skip it; errors are logged only, since the
// caller's mutation already succeeded.
func (s *Service) scheduleAfterWrite(ctx context.Context, settings *domain.UserSettings, p *domain.Plan) {
	if !settings.NotificationsEnabled {
		return
	}
	today := domain.DateOf(s.clock.NowUTC(), time.UTC)
	if p.Date.Before(today) {
		return
	}
	if err := s.notifier.Schedule(ctx, p); err != nil {
		slog.ErrorContext(ctx, "failed to schedule notification", "plan_id", p.ID, "error", err)
	}
}

func draftEnd(d domain.PlanDraft) domain.TimeOfDay {
	if d.EndTime == nil {
		return d.StartTime
	}
	return *d.EndTime
}

func planIDs(plans []*domain.Plan) []string {
	ids := make([]string, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
	}
	return ids
}
