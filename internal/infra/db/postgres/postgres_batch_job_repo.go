package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/repository"
)

var _ repository.BatchJobRepository = (*batchJobRepo)(nil)

type batchJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewBatchJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *batchJobRepo {
	return &batchJobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, org_id, status, total_tasks, completed_tasks, failed_tasks,
error_message, driver_active, driver_runs, driver_last_ping, trigger_source, created_at, updated_at`

func (r *batchJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.BatchJob, tasks []*model.JobTask) error {
	if tx == nil {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.Create(ctx, tx, job, tasks)
		})
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.TotalTasks = len(tasks)

	const insertJob = `
INSERT INTO batch_jobs (id, org_id, status, total_tasks, completed_tasks, failed_tasks,
  error_message, driver_active, driver_runs, driver_last_ping, trigger_source, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, 0, '', false, 0, NULL, $5, $6, $7);`

	if _, err := execSQL(ctx, r.pool, tx, insertJob,
		job.ID, job.OrgID, job.Status, job.TotalTasks, job.TriggerSource, job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("insert batch job: %w", err)
	}

	const insertTask = `
INSERT INTO batch_tasks (id, job_id, prompt_id, provider, attempts, last_error, outcome,
  brand_mentioned, competitor_mentions, answer_tokens, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, '', $5, false, 0, 0, $6, $7);`

	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.JobID = job.ID
		t.Outcome = model.TaskOutcomePending
		t.CreatedAt = now
		t.UpdatedAt = now
		if _, err := execSQL(ctx, r.pool, tx, insertTask,
			t.ID, t.JobID, t.PromptID, t.Provider, t.Outcome, t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("insert batch task: %w", err)
		}
	}
	return nil
}

func (r *batchJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BatchJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func scanJob(row pgx.Row) (*model.BatchJob, error) {
	var j model.BatchJob
	var statusStr string
	var lastPing *time.Time
	err := row.Scan(
		&j.ID, &j.OrgID, &statusStr, &j.TotalTasks, &j.CompletedTasks, &j.FailedTasks,
		&j.ErrorMessage, &j.DriverActive, &j.DriverRuns, &lastPing, &j.TriggerSource,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.BatchJobStatus(statusStr)
	if lastPing != nil {
		j.DriverLastPing = *lastPing
	}
	return &j, nil
}

// Claim is the compare-and-set admission point: only one driver can flip
// driver_active for a live job.
func (r *batchJobRepo) Claim(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE batch_jobs
SET driver_active = true,
    status = 'processing',
    updated_at = now()
WHERE id = $1
  AND driver_active = false
  AND status IN ('pending', 'processing');`

	tag, err := execSQL(ctx, r.pool, nil, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *batchJobRepo) Release(ctx context.Context, id string) error {
	const q = `UPDATE batch_jobs SET driver_active = false, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id)
	return err
}

func (r *batchJobRepo) Heartbeat(ctx context.Context, id string) error {
	const q = `
UPDATE batch_jobs
SET driver_last_ping = now(), driver_runs = driver_runs + 1, updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id)
	return err
}

// RecordOutcome applies the task result and the counter increment in one
// transaction. The increment carries the ledger invariant in its WHERE
// clause, so a lost-update can never push counters past total_tasks.
func (r *batchJobRepo) RecordOutcome(ctx context.Context, task *model.JobTask) error {
	if task.Outcome != model.TaskOutcomeSucceeded && task.Outcome != model.TaskOutcomeFailed {
		return domain.ErrInvalidArgument
	}

	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const updateTask = `
UPDATE batch_tasks
SET outcome = $2, attempts = $3, last_error = $4,
    brand_mentioned = $5, competitor_mentions = $6, answer_tokens = $7,
    updated_at = now()
WHERE id = $1 AND outcome = 'pending';`

		tag, err := execSQL(ctx, r.pool, tx, updateTask,
			task.ID, task.Outcome, task.Attempts, task.LastError,
			task.BrandMentioned, task.CompetitorMentions, task.AnswerTokens)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Task already resolved; keep the counters untouched.
			return nil
		}

		counter := "completed_tasks"
		if task.Outcome == model.TaskOutcomeFailed {
			counter = "failed_tasks"
		}
		incJob := fmt.Sprintf(`
UPDATE batch_jobs
SET %s = %s + 1, updated_at = now()
WHERE id = $1 AND completed_tasks + failed_tasks < total_tasks;`, counter, counter)

		tag, err = execSQL(ctx, r.pool, tx, incJob, task.JobID)
		if err != nil {
			return fmt.Errorf("increment job counter: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job %s counters already at total_tasks: %w", task.JobID, domain.ErrInvalidArgument)
		}
		return nil
	})
}

func (r *batchJobRepo) Finalize(ctx context.Context, id string, status model.BatchJobStatus, errorMessage string) error {
	if !status.IsTerminal() {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE batch_jobs
SET status = $2, error_message = $3, driver_active = false, updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled');`

	tag, err := execSQL(ctx, r.pool, nil, q, id, status, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

func (r *batchJobRepo) Cancel(ctx context.Context, id string) error {
	const q = `
UPDATE batch_jobs
SET status = 'cancelled', driver_active = false, updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled');`

	tag, err := execSQL(ctx, r.pool, nil, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

func (r *batchJobRepo) NextPendingTasks(ctx context.Context, jobID string, limit int) ([]*model.JobTask, error) {
	const q = `
SELECT id, job_id, prompt_id, provider, attempts, last_error, outcome,
       brand_mentioned, competitor_mentions, answer_tokens, created_at, updated_at
FROM batch_tasks
WHERE job_id = $1 AND outcome = 'pending'
ORDER BY created_at
LIMIT $2;`

	rows, err := pickRows(ctx, r.pool, nil, q, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.JobTask
	for rows.Next() {
		var t model.JobTask
		var outcomeStr string
		if err := rows.Scan(
			&t.ID, &t.JobID, &t.PromptID, &t.Provider, &t.Attempts, &t.LastError, &outcomeStr,
			&t.BrandMentioned, &t.CompetitorMentions, &t.AnswerTokens, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.Outcome = model.TaskOutcome(outcomeStr)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ReclaimAbandoned frees a claim whose heartbeat has gone stale. It is only
// reachable through the explicit operator endpoint; nothing reclaims
// automatically, so already-recorded outcomes are never double-processed.
func (r *batchJobRepo) ReclaimAbandoned(ctx context.Context, id string, staleAfter time.Duration) error {
	const q = `
UPDATE batch_jobs
SET driver_active = false, updated_at = now()
WHERE id = $1
  AND driver_active = true
  AND status NOT IN ('completed', 'failed', 'cancelled')
  AND (driver_last_ping IS NULL OR driver_last_ping < now() - $2::interval);`

	interval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))
	tag, err := execSQL(ctx, r.pool, nil, q, id, interval)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	job, err := r.FindByID(ctx, nil, id)
	if err != nil {
		return err
	}
	switch {
	case job.Status.IsTerminal():
		return domain.ErrJobTerminal
	case !job.DriverActive:
		return nil // nothing to reclaim
	default:
		return domain.ErrDriverStillLive
	}
}
