package repository

import (
	"context"
	"time"

	"ai-brand-monitor/internal/domain/model"
)

// IdempotencyRepository stores request digests so duplicate enqueues of the
// same logical work resolve to the existing job.
type IdempotencyRepository interface {
	// Lock serializes concurrent resolves of the same digest until tx ends.
	// Callers must hold the lock before FindRecent or two racing enqueues
	// would both miss the lookup and both create a job.
	Lock(ctx context.Context, tx Tx, digest string) error

	// FindRecent returns the newest record for digest created at or after
	// since, or ErrNotFound.
	FindRecent(ctx context.Context, tx Tx, digest string, since time.Time) (*model.IdempotencyRecord, error)

	Save(ctx context.Context, tx Tx, rec *model.IdempotencyRecord) error
}
