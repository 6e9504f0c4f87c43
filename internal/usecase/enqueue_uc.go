package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/repository"
)

// Compile-time check
var _ EnqueueUseCase = (*enqueueUC)(nil)

// EnqueueResult reports which job a logical request resolved to.
type EnqueueResult struct {
	JobID string
	IsNew bool
}

// EnqueueUseCase is the idempotency key service: it deduplicates enqueue
// requests onto one job per logical unit of work per day.
type EnqueueUseCase interface {
	// Resolve returns the job for (org, scope, targets, modelVersion) within
	// the dedup cooldown, creating the job and its task fan-out only when no
	// usable one exists. A previously failed job does not block a rerun.
	Resolve(ctx context.Context, orgID, scope string, targetIDs []string, modelVersion, source string) (*EnqueueResult, error)
}

const (
	ScopeOrg    = "org"
	ScopePrompt = "prompt"
)

type enqueueUC struct {
	jobs repository.BatchJobRepository
	idem repository.IdempotencyRepository
	orgs repository.OrgRepository
	tm   repository.TransactionManager
	now  func() time.Time
	log  *zerolog.Logger
}

func NewEnqueueUseCase(
	jobs repository.BatchJobRepository,
	idem repository.IdempotencyRepository,
	orgs repository.OrgRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *enqueueUC {
	ucLog := logger.With().Str("component", "EnqueueUC").Logger()
	return &enqueueUC{
		jobs: jobs,
		idem: idem,
		orgs: orgs,
		tm:   tm,
		now:  time.Now,
		log:  &ucLog,
	}
}

func (u *enqueueUC) Resolve(ctx context.Context, orgID, scope string, targetIDs []string, modelVersion, source string) (*EnqueueResult, error) {
	if scope != ScopeOrg && scope != ScopePrompt {
		return nil, fmt.Errorf("scope %q: %w", scope, domain.ErrInvalidArgument)
	}
	if scope == ScopePrompt && len(targetIDs) == 0 {
		return nil, fmt.Errorf("prompt scope requires prompt ids: %w", domain.ErrInvalidArgument)
	}

	prompts, err := u.orgs.ActivePrompts(ctx, nil, orgID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	if scope == ScopePrompt {
		prompts = filterPrompts(prompts, targetIDs)
	}
	providers, err := u.orgs.EnabledProviders(ctx, nil, orgID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	if len(prompts) == 0 || len(providers) == 0 {
		return nil, domain.ErrNoEligiblePrompts
	}

	promptIDs := make([]string, 0, len(prompts))
	for _, p := range prompts {
		promptIDs = append(promptIDs, p.ID)
	}

	now := u.now()
	digest := model.ComputeDigest(orgID, scope, promptIDs, now, modelVersion)

	var result *EnqueueResult
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Concurrent resolves of the same digest serialize here; the loser of
		// the race waits, then finds the winner's record.
		if err := u.idem.Lock(ctx, tx, digest); err != nil {
			return fmt.Errorf("lock digest: %w", err)
		}
		rec, err := u.idem.FindRecent(ctx, tx, digest, now.Add(-model.DedupCooldown))
		if err != nil && err != domain.ErrNotFound {
			return fmt.Errorf("lookup idempotency record: %w", err)
		}
		if rec != nil {
			existing, err := u.jobs.FindByID(ctx, tx, rec.JobID)
			if err != nil && err != domain.ErrNotFound {
				return fmt.Errorf("read deduplicated job: %w", err)
			}
			// A failed (or vanished) job must not swallow a rerun.
			if existing != nil && existing.Status != model.BatchJobStatusFailed {
				result = &EnqueueResult{JobID: existing.ID, IsNew: false}
				return nil
			}
		}

		job := &model.BatchJob{
			ID:            newJobID(now),
			OrgID:         orgID,
			Status:        model.BatchJobStatusPending,
			TriggerSource: source,
		}
		tasks := make([]*model.JobTask, 0, len(prompts)*len(providers))
		for _, p := range prompts {
			for _, s := range providers {
				tasks = append(tasks, &model.JobTask{PromptID: p.ID, Provider: s.Provider})
			}
		}
		if err := u.jobs.Create(ctx, tx, job, tasks); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		if err := u.idem.Save(ctx, tx, &model.IdempotencyRecord{
			Digest:    digest,
			JobID:     job.ID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("save idempotency record: %w", err)
		}

		u.log.Info().Str("job_id", job.ID).Str("org_id", orgID).Str("scope", scope).
			Int("tasks", len(tasks)).Msg("batch job created")
		result = &EnqueueResult{JobID: job.ID, IsNew: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func filterPrompts(prompts []*model.TrackedPrompt, ids []string) []*model.TrackedPrompt {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := prompts[:0]
	for _, p := range prompts {
		if _, ok := want[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// newJobID returns a time-sortable job identifier.
func newJobID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
