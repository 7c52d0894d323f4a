package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs (job_id, run_at_utc, payload_blob, misfire_grace_seconds, acquired_by_worker, acquired_at)
		VALUES (?, ?, ?, ?, NULL, NULL)
		ON CONFLICT (job_id) DO UPDATE SET
			run_at_utc = EXCLUDED.run_at_utc,
			payload_blob = EXCLUDED.payload_blob,
			misfire_grace_seconds = EXCLUDED.misfire_grace_seconds,
			acquired_by_worker = NULL,
			acquired_at = NULL`,
		job.JobID, encodeTime(job.RunAt), string(payload), int(job.MisfireGrace.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// RemoveJob deletes a job. Silent when absent.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	return nil
}

// DueJobs returns unacquired jobs with run_at <= before, ordered by
// run_at ascending. RFC 3339 TEXT in UTC compares chronologically.
func (s *Store) DueJobs(ctx context.Context, before time.Time) ([]*domain.SchedulerJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, run_at_utc, payload_blob, misfire_grace_seconds, acquired_by_worker, acquired_at
		FROM scheduler_jobs
		WHERE acquired_by_worker IS NULL AND run_at_utc <= ?
		ORDER BY run_at_utc`, encodeTime(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// NextRunAt returns the earliest run_at among unacquired jobs, or nil
// when none exist.
func (s *Store) NextRunAt(ctx context.Context) (*time.Time, error) {
	var next *string
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(run_at_utc) FROM scheduler_jobs WHERE acquired_by_worker IS NULL`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to query next run instant: %w", err)
	}
	return decodeTimePtr(next)
}

// AcquireJob atomically marks a job in-flight for workerID. The guarded
// UPDATE means exactly one caller wins a given job.
func (s *Store) AcquireJob(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs
		SET acquired_by_worker = ?, acquired_at = ?
		WHERE job_id = ? AND acquired_by_worker IS NULL`,
		workerID, encodeTime(time.Now()), jobID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CompleteJob removes a job after dispatch finished.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ReleaseStaleJobs clears acquisitions older than olderThan so jobs
// orphaned by a crashed worker become claimable again.
func (s *Store) ReleaseStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs
		SET acquired_by_worker = NULL, acquired_at = NULL
		WHERE acquired_by_worker IS NOT NULL AND acquired_at < ?`, encodeTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func scanJobs(rows *sql.Rows) ([]*domain.SchedulerJob, error) {
	var jobs []*domain.SchedulerJob
	for rows.Next() {
		var (
			job      domain.SchedulerJob
			runAtStr string
			payload  string
			graceS   int
			acqAtStr *string
		)
		if err := rows.Scan(&job.JobID, &runAtStr, &payload, &graceS, &job.AcquiredBy, &acqAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		var p jobPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("corrupt payload for job %s: %w", job.JobID, err)
		}
		job.PlanID = p.PlanID
		job.MisfireGrace = time.Duration(graceS) * time.Second

		var err error
		if job.RunAt, err = decodeTime(runAtStr); err != nil {
			return nil, fmt.Errorf("corrupt run_at_utc for job %s: %w", job.JobID, err)
		}
		if job.AcquiredAt, err = decodeTimePtr(acqAtStr); err != nil {
			return nil, fmt.Errorf("corrupt acquired_at for job %s: %w", job.JobID, err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job rows: %w", err)
	}
	return jobs, nil
}
