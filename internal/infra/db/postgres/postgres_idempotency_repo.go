package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/repository"
)

var _ repository.IdempotencyRepository = (*idempotencyRepo)(nil)

type idempotencyRepo struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *idempotencyRepo {
	return &idempotencyRepo{pool: pool}
}

// Lock takes a transaction-scoped advisory lock on the digest. The second of
// two racing enqueues blocks here until the first commits, then sees its
// record in FindRecent. Released automatically at commit/rollback.
func (r *idempotencyRepo) Lock(ctx context.Context, tx repository.Tx, digest string) error {
	if tx == nil {
		// An xact lock outside a transaction would release immediately.
		return domain.ErrInvalidExecContext
	}
	const q = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0));`
	_, err := execSQL(ctx, r.pool, tx, q, digest)
	return err
}

func (r *idempotencyRepo) FindRecent(ctx context.Context, tx repository.Tx, digest string, since time.Time) (*model.IdempotencyRecord, error) {
	const q = `
SELECT digest, job_id, created_at
FROM idempotency_records
WHERE digest = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT 1;`

	row, err := pickRow(ctx, r.pool, tx, q, digest, since)
	if err != nil {
		return nil, err
	}
	var rec model.IdempotencyRecord
	if err := row.Scan(&rec.Digest, &rec.JobID, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &rec, nil
}

func (r *idempotencyRepo) Save(ctx context.Context, tx repository.Tx, rec *model.IdempotencyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// Records are append-only; a fresh record supersedes an expired one.
	const q = `INSERT INTO idempotency_records (digest, job_id, created_at) VALUES ($1, $2, $3);`
	_, err := execSQL(ctx, r.pool, tx, q, rec.Digest, rec.JobID, rec.CreatedAt)
	return err
}
