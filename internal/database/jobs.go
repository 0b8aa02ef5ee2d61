package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"securetext/internal/models"
)

// EnqueueJob persists a queue entry. The job survives process restarts until
// it reaches a terminal status.
func (d *Database) EnqueueJob(ctx context.Context, job *models.Job) (int64, error) {
	var nextAttempt interface{}
	if !job.NextAttemptAt.IsZero() {
		nextAttempt = job.NextAttemptAt
	}

	var id int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, insertJobQuery,
			job.Token, string(job.Kind), job.Payload, job.MaxAttempts, nextAttempt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, "enqueue job")
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ClaimDueJobs atomically marks up to limit queued jobs as running and
// returns them. Claiming increments the attempt counter.
func (d *Database) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	var ids []int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectDueJobIDsQuery, now, limit)
		if err != nil {
			return fmt.Errorf("failed to select due jobs: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan job id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read due jobs: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, claimJobQuery, id); err != nil {
				return fmt.Errorf("failed to claim job %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := d.getJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (d *Database) getJob(ctx context.Context, id int64) (*models.Job, error) {
	job := &models.Job{}
	var kind, status string
	var nextAttempt sql.NullTime

	err := d.db.QueryRowContext(ctx, selectJobQuery, id).Scan(
		&job.ID, &job.Token, &kind, &job.Payload, &job.Attempts, &job.MaxAttempts,
		&status, &job.LastError, &nextAttempt, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Kind = models.TaskKind(kind)
	job.Status = models.JobStatus(status)
	if nextAttempt.Valid {
		job.NextAttemptAt = nextAttempt.Time
	}
	return job, nil
}

// MarkJobDone acknowledges successful execution.
func (d *Database) MarkJobDone(ctx context.Context, id int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, markJobDoneQuery, id)
		return err
	}, "mark job done")
}

// FailJob records a transient failure and schedules the next attempt.
func (d *Database) FailJob(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, failJobQuery, errMsg, nextAttemptAt, id)
		return err
	}, "fail job")
}

// MarkJobDead parks a job that exhausted its attempts or hit a
// non-retryable error. Dead jobs are kept for inspection.
func (d *Database) MarkJobDead(ctx context.Context, id int64, errMsg string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, markJobDeadQuery, errMsg, id)
		return err
	}, "mark job dead")
}

// RequeueStaleJobs resets jobs stuck in running state since before
// staleBefore back to queued. Crash recovery: a worker that died mid-job
// leaves the row in running forever otherwise.
func (d *Database) RequeueStaleJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	var count int
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, requeueStaleJobsQuery, staleBefore)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		count = int(affected)
		return nil
	}, "requeue stale jobs")
	if err != nil {
		return 0, err
	}
	return count, nil
}
