package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/flow7/internal/domain"
)

// jobPayload is the JSON shape of scheduler_jobs.payload_blob.
type jobPayload struct {
	PlanID string `json:"plan_id"`
}

// UpsertJob inserts or replaces a job. Idempotent: re-upserting an
// acquired job clears the acquisition, since a replace expresses new
// dispatch intent.
func (s *Store) UpsertJob(ctx context.Context, job *domain.SchedulerJob) error {
	payload, err := json.Marshal(jobPayload{PlanID: job.PlanID})
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduler_jobs (job_id, run_at_utc, payload_blob, misfire_grace_seconds, acquired_by_worker, acquired_at)
		VALUES ($1, $2, $3, $4, NULL, NULL)
		ON CONFLICT (job_id) DO UPDATE SET
			run_at_utc = EXCLUDED.run_at_utc,
			payload_blob = EXCLUDED.payload_blob,
			misfire_grace_seconds = EXCLUDED.misfire_grace_seconds,
			acquired_by_worker = NULL,
			acquired_at = NULL`,
		job.JobID, job.RunAt, payload, int(job.MisfireGrace.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// RemoveJob deletes a job. Silent when absent.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM scheduler_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	return nil
}

// DueJobs returns unacquired jobs with run_at <= before, ordered by
// run_at ascending.
func (s *Store) DueJobs(ctx context.Context, before time.Time) ([]*domain.SchedulerJob, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, run_at_utc, payload_blob, misfire_grace_seconds, acquired_by_worker, acquired_at
		FROM scheduler_jobs
		WHERE acquired_by_worker IS NULL AND run_at_utc <= $1
		ORDER BY run_at_utc`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// NextRunAt returns the earliest run_at among unacquired jobs, or nil
// when none exist.
func (s *Store) NextRunAt(ctx context.Context) (*time.Time, error) {
	var next *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT MIN(run_at_utc) FROM scheduler_jobs WHERE acquired_by_worker IS NULL`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to query next run instant: %w", err)
	}
	if next != nil {
		utc := next.UTC()
		next = &utc
	}
	return next, nil
}

// AcquireJob atomically marks a job in-flight for workerID. The guarded
// UPDATE means exactly one caller wins a given job.
func (s *Store) AcquireJob(ctx context.Context, jobID, workerID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs
		SET acquired_by_worker = $2, acquired_at = NOW()
		WHERE job_id = $1 AND acquired_by_worker IS NULL`,
		jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteJob removes a job after dispatch finished.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM scheduler_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ReleaseStaleJobs clears acquisitions older than olderThan so jobs
// orphaned by a crashed worker become claimable again.
func (s *Store) ReleaseStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs
		SET acquired_by_worker = NULL, acquired_at = NULL
		WHERE acquired_by_worker IS NOT NULL AND acquired_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJobs(rows pgx.Rows) ([]*domain.SchedulerJob, error) {
	var jobs []*domain.SchedulerJob
	for rows.Next() {
		var (
			job     domain.SchedulerJob
			payload []byte
			graceS  int
		)
		if err := rows.Scan(&job.JobID, &job.RunAt, &payload, &graceS, &job.AcquiredBy, &job.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		var p jobPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("corrupt payload for job %s: %w", job.JobID, err)
		}
		job.PlanID = p.PlanID
		job.MisfireGrace = time.Duration(graceS) * time.Second
		job.RunAt = job.RunAt.UTC()
		if job.AcquiredAt != nil {
			utc := job.AcquiredAt.UTC()
			job.AcquiredAt = &utc
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job rows: %w", err)
	}
	return jobs, nil
}
