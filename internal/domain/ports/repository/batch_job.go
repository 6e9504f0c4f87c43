package repository

import (
	"context"
	"time"

	"ai-brand-monitor/internal/domain/model"
)

// BatchJobRepository is the job ledger: the single source of truth for one
// batch job's identity, counters and status.
//
// Claim is the sole admission-control point keeping two drivers off the same
// job: it must be a storage-level compare-and-set on driver_active, never a
// read-then-write. RecordOutcome must apply the counter increment and the
// completed+failed <= total invariant check as one indivisible update.
type BatchJobRepository interface {
	// Create persists the job and its task fan-out in one transaction.
	Create(ctx context.Context, tx Tx, job *model.BatchJob, tasks []*model.JobTask) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.BatchJob, error)

	// Claim atomically flips driver_active false->true and moves a pending
	// job to processing. Returns false (no error) when another driver holds
	// the claim; duplicate trigger invocations are expected, not exceptional.
	Claim(ctx context.Context, id string) (bool, error)

	// Release clears driver_active without touching status, so a budget-
	// exhausted driver can hand the job to its continuation.
	Release(ctx context.Context, id string) error

	// Heartbeat bumps driver_last_ping and increments driver_runs.
	Heartbeat(ctx context.Context, id string) error

	// RecordOutcome updates the task row and increments exactly one of the
	// job's counters, guarded by the ledger invariant.
	RecordOutcome(ctx context.Context, task *model.JobTask) error

	// Finalize sets a terminal status and releases the claim. It refuses to
	// overwrite a terminal status.
	Finalize(ctx context.Context, id string, status model.BatchJobStatus, errorMessage string) error

	// Cancel marks the job cancelled directly; drivers observe it between
	// tasks and stop.
	Cancel(ctx context.Context, id string) error

	// NextPendingTasks pops up to limit unresolved tasks for the job.
	NextPendingTasks(ctx context.Context, jobID string, limit int) ([]*model.JobTask, error)

	// ReclaimAbandoned clears driver_active when the last heartbeat is older
	// than staleAfter. It is the explicit operator escape hatch for a crashed
	// driver and returns ErrDriverStillLive when the heartbeat is fresh.
	ReclaimAbandoned(ctx context.Context, id string, staleAfter time.Duration) error
}
