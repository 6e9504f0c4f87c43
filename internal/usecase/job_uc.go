package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/repository"
	"ai-brand-monitor/internal/infra/metrics"
	"ai-brand-monitor/internal/infra/worker"
)

var _ JobUseCase = (*jobUC)(nil)

// JobUseCase exposes read and control operations on batch jobs.
type JobUseCase interface {
	Get(ctx context.Context, jobID string) (*model.BatchJob, error)
	// Cancel marks a non-terminal job cancelled. The running driver observes
	// the status between tasks and stops without reverting recorded outcomes.
	Cancel(ctx context.Context, jobID string) error
	// Reclaim force-releases the claim of a job whose driver stopped
	// heartbeating, then re-arms a driver for it. Operator action only.
	Reclaim(ctx context.Context, jobID string) error
}

type jobUC struct {
	jobs       repository.BatchJobRepository
	cont       worker.Continuations
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewJobUseCase(jobs repository.BatchJobRepository, cont worker.Continuations, staleAfter time.Duration, logger *zerolog.Logger) *jobUC {
	if staleAfter <= 0 {
		staleAfter = 3 * 55 * time.Second
	}
	ucLog := logger.With().Str("component", "JobUC").Logger()
	return &jobUC{
		jobs:       jobs,
		cont:       cont,
		staleAfter: staleAfter,
		log:        &ucLog,
	}
}

func (u *jobUC) Get(ctx context.Context, jobID string) (*model.BatchJob, error) {
	return u.jobs.FindByID(ctx, nil, jobID)
}

func (u *jobUC) Cancel(ctx context.Context, jobID string) error {
	if err := u.jobs.Cancel(ctx, jobID); err != nil {
		return err
	}
	metrics.IncBatchJob(string(model.BatchJobStatusCancelled))
	u.log.Info().Str("job_id", jobID).Msg("job cancelled")
	return nil
}

func (u *jobUC) Reclaim(ctx context.Context, jobID string) error {
	if err := u.jobs.ReclaimAbandoned(ctx, jobID, u.staleAfter); err != nil {
		return err
	}
	u.log.Warn().Str("job_id", jobID).Msg("abandoned job reclaimed")
	return u.cont.Continue(jobID)
}
