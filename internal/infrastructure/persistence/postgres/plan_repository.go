package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezkam/flow7/internal/domain"
)

const planColumns = `id, user_id, date, start_time, end_time, title, description, notified, notify_at_utc, created_at, updated_at`

// CreatePlan persists a new plan.
func (s *Store) CreatePlan(ctx context.Context, p *domain.Plan) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO plans (id, user_id, date, start_time, end_time, title, description, notified, notify_at_utc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.Date.String(), p.StartTime.String(), endTimeValue(p.EndTime),
		p.Title, p.Description, p.Notified, p.NotifyAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("plan %s already exists: %w", p.ID, err)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// FindPlanByID retrieves a plan by id.
func (s *Store) FindPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	row := s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}
	return p, nil
}

// ListPlansByRange returns the user's plans with date in [from, to],
// ordered by (date, start_time). The TEXT encoding of civil values makes
// lexicographic order chronological.
func (s *Store) ListPlansByRange(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_time`,
		uid, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()
	return scanPlans(rows)
}

// UpdatePlan replaces the mutable fields of an existing plan.
func (s *Store) UpdatePlan(ctx context.Context, p *domain.Plan) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE plans
		SET date = $2, start_time = $3, end_time = $4, title = $5, description = $6,
		    notified = $7, notify_at_utc = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Date.String(), p.StartTime.String(), endTimeValue(p.EndTime),
		p.Title, p.Description, p.Notified, p.NotifyAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlanNotFound
	}
	return nil
}

// DeletePlan removes a plan.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlanNotFound
	}
	return nil
}

// FindOverlapping returns plans of uid on date whose [start, end)
// interval strictly overlaps [start, end). A transaction-scoped advisory
// lock on the (uid, date) slot serializes concurrent checks. A locking
// read alone cannot: two inserts racing into an empty slot each match
// zero rows, lock nothing, and both commit.
func (s *Store) FindOverlapping(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, uid, date.String()); err != nil {
		return nil, fmt.Errorf("failed to lock plan slot: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = $1 AND date = $2
		  AND ($3 = '' OR id <> $3)
		  AND start_time < $4
		  AND COALESCE(end_time, start_time) > $5
		ORDER BY start_time`,
		uid, date.String(), excludeID, end.String(), start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping plans: %w", err)
	}
	defer rows.Close()
	return scanPlans(rows)
}

// ListPendingForUser returns the user's unnotified plans with date in
// [from, to].
func (s *Store) ListPendingForUser(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = $1 AND NOT notified AND date >= $2 AND date <= $3
		ORDER BY date, start_time`,
		uid, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query pending plans: %w", err)
	}
	defer rows.Close()
	return scanPlans(rows)
}

// ListPendingInRange returns unnotified plans across all users, used by
// startup recovery.
func (s *Store) ListPendingInRange(ctx context.Context, from, to domain.Date) ([]*domain.Plan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE NOT notified AND date >= $1 AND date <= $2
		ORDER BY date, start_time`,
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query pending plans: %w", err)
	}
	defer rows.Close()
	return scanPlans(rows)
}

// SetNotifySchedule persists the instant dispatch is scheduled for.
func (s *Store) SetNotifySchedule(ctx context.Context, planID string, notifyAt *time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE plans SET notify_at_utc = $2 WHERE id = $1`, planID, notifyAt)
	if err != nil {
		return fmt.Errorf("failed to set notify instant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlanNotFound
	}
	return nil
}

// MarkNotified sets notified=true.
func (s *Store) MarkNotified(ctx context.Context, planID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE plans SET notified = TRUE WHERE id = $1`, planID)
	if err != nil {
		return fmt.Errorf("failed to mark notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlanNotFound
	}
	return nil
}

func endTimeValue(t *domain.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	var (
		p        domain.Plan
		dateStr  string
		startStr string
		endStr   *string
		notifyAt *time.Time
	)
	if err := row.Scan(&p.ID, &p.UserID, &dateStr, &startStr, &endStr,
		&p.Title, &p.Description, &p.Notified, &notifyAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Date, err = domain.ParseDate(dateStr); err != nil {
		return nil, fmt.Errorf("corrupt date for plan %s: %w", p.ID, err)
	}
	if p.StartTime, err = domain.ParseTimeOfDay(startStr); err != nil {
		return nil, fmt.Errorf("corrupt start_time for plan %s: %w", p.ID, err)
	}
	if endStr != nil {
		end, err := domain.ParseTimeOfDay(*endStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt end_time for plan %s: %w", p.ID, err)
		}
		p.EndTime = &end
	}
	if notifyAt != nil {
		utc := notifyAt.UTC()
		p.NotifyAt = &utc
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func scanPlans(rows pgx.Rows) ([]*domain.Plan, error) {
	var plans []*domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan rows: %w", err)
	}
	return plans, nil
}
