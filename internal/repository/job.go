package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finpulse/corebank/internal/domain"
)

const jobColumns = `id, kind, args, queue, state, attempts, max_attempts,
	scheduled_at, unique_key, last_error, created_at, updated_at`

// JobRepository is the durable queue behind the orchestrator. Rows move
// available -> executing -> completed/cancelled/discarded; the partial
// unique index on unique_key enforces at-most-one active job per key.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a job inside the caller's transaction. Returns false when
// a job with the same unique key is already available or executing.
func (r *JobRepository) Enqueue(ctx context.Context, tx *sql.Tx, job *domain.Job) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (
			id, kind, args, queue, state, attempts, max_attempts,
			scheduled_at, unique_key, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (unique_key) WHERE state IN ('available', 'executing')
		DO NOTHING`,
		job.ID, job.Kind, []byte(job.Args), job.Queue, job.State, job.Attempts,
		job.MaxAttempts, job.ScheduledAt, job.UniqueKey, job.LastError,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Enqueue: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Enqueue: rows affected: %w", err)
	}
	return rows == 1, nil
}

// ClaimAvailable moves up to limit due jobs to executing and returns them.
// SKIP LOCKED lets concurrent workers claim disjoint sets without blocking.
func (r *JobRepository) ClaimAvailable(ctx context.Context, queue string, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE jobs SET state = 'executing', attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = 'available' AND queue = $1 AND scheduled_at <= now()
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		queue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimAvailable: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimAvailable: scan: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimAvailable: rows: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.finish(ctx, id, domain.JobStateCompleted, nil)
}

// ScheduleRetry returns an executing job to available with a new run time.
func (r *JobRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, lastError string, runAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'available', last_error = $1, scheduled_at = $2, updated_at = now()
		WHERE id = $3 AND state = 'executing'`,
		lastError, runAt, id,
	)
	if err != nil {
		return fmt.Errorf("ScheduleRetry: %w", err)
	}
	return checkOneRow(res, "ScheduleRetry")
}

// Discard parks an executing job for operator inspection.
func (r *JobRepository) Discard(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.finish(ctx, id, domain.JobStateDiscarded, &lastError)
}

func (r *JobRepository) finish(ctx context.Context, id uuid.UUID, state domain.JobState, lastError *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = $1, last_error = COALESCE($2, last_error), updated_at = now()
		WHERE id = $3 AND state = 'executing'`,
		state, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	return checkOneRow(res, "finish")
}

// CancelPending retires an available job by unique key before a worker can
// claim it. Returns false when no available job matched; the caller decides
// whether an executing job makes that a conflict.
func (r *JobRepository) CancelPending(ctx context.Context, tx *sql.Tx, uniqueKey string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = 'cancelled', updated_at = now()
		WHERE unique_key = $1 AND state = 'available'`,
		uniqueKey,
	)
	if err != nil {
		return false, fmt.Errorf("CancelPending: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CancelPending: rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *JobRepository) HasExecuting(ctx context.Context, tx *sql.Tx, uniqueKey string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE unique_key = $1 AND state = 'executing')`,
		uniqueKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasExecuting: %w", err)
	}
	return exists, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrInternal.WithDetail("entity", "job"))
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return j, nil
}

func (r *JobRepository) GetByUniqueKey(ctx context.Context, uniqueKey string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE unique_key = $1
		ORDER BY created_at DESC LIMIT 1`,
		uniqueKey,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByUniqueKey: %w", domain.ErrInternal.WithDetail("entity", "job"))
		}
		return nil, fmt.Errorf("GetByUniqueKey: %w", err)
	}
	return j, nil
}

// RescueStuck returns executing jobs last touched before the cutoff to
// available so they can be claimed again. A worker that died mid-job leaves
// the row executing; the rescuer is what re-delivers it. The claim already
// counted the attempt, so a job that keeps getting rescued still runs out
// of attempts and is discarded rather than looping forever.
func (r *JobRepository) RescueStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'available', scheduled_at = now(), updated_at = now()
		WHERE state = 'executing' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("RescueStuck: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RescueStuck: rows affected: %w", err)
	}
	return n, nil
}

// SweepTerminal deletes completed and cancelled jobs older than the cutoff.
// Discarded jobs are kept for operators.
func (r *JobRepository) SweepTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs
		WHERE state IN ('completed', 'cancelled') AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("SweepTerminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("SweepTerminal: rows affected: %w", err)
	}
	return n, nil
}

func checkOneRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: job not executing", op)
	}
	return nil
}

func scanJob(s scanner) (*domain.Job, error) {
	var j domain.Job
	var args []byte
	err := s.Scan(
		&j.ID, &j.Kind, &args, &j.Queue, &j.State, &j.Attempts, &j.MaxAttempts,
		&j.ScheduledAt, &j.UniqueKey, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Args = args
	return &j, nil
}
