package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

const planColumns = `id, user_id, date, start_time, end_time, title, description, notified, notify_at_utc, created_at, updated_at`

// CreatePlan persists a new plan.
func (s *Store) CreatePlan(ctx context.Context, p *domain.Plan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, user_id, date, start_time, end_time, title, description, notified, notify_at_utc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Date.String(), p.StartTime.String(), endTimeValue(p.EndTime),
		p.Title, p.Description, p.Notified, encodeTimePtr(p.NotifyAt),
		encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// FindPlanByID retrieves a plan by id.
func (s *Store) FindPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = ? AND date >= ? AND date <= ?
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans
		SET date = ?, start_time = ?, end_time = ?, title = ?, description = ?,
		    notified = ?, notify_at_utc = ?, updated_at = ?
		WHERE id = ?`,
		p.Date.String(), p.StartTime.String(), endTimeValue(p.EndTime),
		p.Title, p.Description, p.Notified, encodeTimePtr(p.NotifyAt),
		encodeTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return requireRow(res, domain.ErrPlanNotFound)
}

// DeletePlan removes a plan.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	return requireRow(res, domain.ErrPlanNotFound)
}

// FindOverlapping returns plans of uid on date whose [start, end)
// interval strictly overlaps [start, end). SQLite serializes writers, so
// unlike the PostgreSQL store no slot lock is needed.
func (s *Store) FindOverlapping(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = ? AND date = ?
		  AND (? = '' OR id <> ?)
		  AND start_time < ?
		  AND COALESCE(end_time, start_time) > ?
		ORDER BY start_time`,
		uid, date.String(), excludeID, excludeID, end.String(), start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping plans: %w", err)
	}
	defer rows.Close()
	return scanPlans(rows)
}

// ListPendingForUser returns the user's unnotified plans with date in
// [from, to].
func (s *Store) ListPendingForUser(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = ? AND NOT notified AND date >= ? AND date <= ?
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE NOT notified AND date >= ? AND date <= ?
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET notify_at_utc = ? WHERE id = ?`, encodeTimePtr(notifyAt), planID)
	if err != nil {
		return fmt.Errorf("failed to set notify instant: %w", err)
	}
	return requireRow(res, domain.ErrPlanNotFound)
}

// MarkNotified sets notified=true.
func (s *Store) MarkNotified(ctx context.Context, planID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET notified = TRUE WHERE id = ?`, planID)
	if err != nil {
		return fmt.Errorf("failed to mark notified: %w", err)
	}
	return requireRow(res, domain.ErrPlanNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
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
		p          domain.Plan
		dateStr    string
		startStr   string
		endStr     *string
		notifyStr  *string
		createdStr string
		updatedStr string
	)
	if err := row.Scan(&p.ID, &p.UserID, &dateStr, &startStr, &endStr,
		&p.Title, &p.Description, &p.Notified, &notifyStr, &createdStr, &updatedStr); err != nil {
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
	if p.NotifyAt, err = decodeTimePtr(notifyStr); err != nil {
		return nil, fmt.Errorf("corrupt notify_at_utc for plan %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, fmt.Errorf("corrupt created_at for plan %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = decodeTime(updatedStr); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for plan %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanPlans(rows *sql.Rows) ([]*domain.Plan, error) {
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
