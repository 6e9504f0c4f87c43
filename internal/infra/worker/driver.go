package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/adapter"
	"ai-brand-monitor/internal/domain/ports/repository"
	"ai-brand-monitor/internal/infra/metrics"
)

// Continuations re-arms a driver for a job that still has pending tasks.
// The continuation token is the job ID itself.
type Continuations interface {
	Continue(jobID string) error
}

// Driver makes bounded, incremental progress on exactly one job per
// invocation. It claims the job, burns through pending tasks until the time
// budget runs out, and either finalizes the job or schedules a continuation
// that will re-claim and resume.
type Driver struct {
	jobs      repository.BatchJobRepository
	orgs      repository.OrgRepository
	exec      *Executor
	extractor adapter.BrandExtractor
	cont      Continuations

	budget    time.Duration
	taskBatch int
	now       func() time.Time

	log *zerolog.Logger
}

func NewDriver(
	jobs repository.BatchJobRepository,
	orgs repository.OrgRepository,
	exec *Executor,
	extractor adapter.BrandExtractor,
	cont Continuations,
	budget time.Duration,
	taskBatch int,
	logger *zerolog.Logger,
) *Driver {
	if budget <= 0 {
		budget = 55 * time.Second
	}
	if taskBatch <= 0 {
		taskBatch = 10
	}
	drvLog := logger.With().Str("component", "Driver").Logger()
	return &Driver{
		jobs:      jobs,
		orgs:      orgs,
		exec:      exec,
		extractor: extractor,
		cont:      cont,
		budget:    budget,
		taskBatch: taskBatch,
		now:       time.Now,
		log:       &drvLog,
	}
}

// Run is one driver invocation for one job.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	ok, err := d.jobs.Claim(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !ok {
		// Another driver owns the job; duplicate invocations are expected.
		d.log.Debug().Str("job_id", jobID).Msg("job already claimed, exiting")
		return nil
	}

	// Past this point the claim is held; every error path must release it or
	// the job sits behind the manual-reclaim gate.
	if err := d.jobs.Heartbeat(ctx, jobID); err != nil {
		d.release(ctx, jobID)
		return fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}
	metrics.IncDriverRun()

	job, err := d.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		d.release(ctx, jobID)
		return fmt.Errorf("read job %s: %w", jobID, err)
	}
	org, err := d.orgs.FindByID(ctx, nil, job.OrgID)
	if err != nil {
		d.release(ctx, jobID)
		return fmt.Errorf("read org %s: %w", job.OrgID, err)
	}
	prompts, err := d.orgs.ActivePrompts(ctx, nil, job.OrgID)
	if err != nil {
		d.release(ctx, jobID)
		return fmt.Errorf("read prompts for org %s: %w", job.OrgID, err)
	}
	promptByID := make(map[string]*model.TrackedPrompt, len(prompts))
	for _, p := range prompts {
		promptByID[p.ID] = p
	}
	settings, err := d.orgs.EnabledProviders(ctx, nil, job.OrgID)
	if err != nil {
		d.release(ctx, jobID)
		return fmt.Errorf("read provider settings for org %s: %w", job.OrgID, err)
	}
	modelByProvider := make(map[string]string, len(settings))
	for _, s := range settings {
		modelByProvider[s.Provider] = s.Model
	}

	d.log.Info().Str("job_id", jobID).Str("org_id", job.OrgID).
		Int("remaining", job.Remaining()).Msg("driver invocation started")

	deadline := d.now().Add(d.budget)

	for {
		tasks, err := d.jobs.NextPendingTasks(ctx, jobID, d.taskBatch)
		if err != nil {
			d.release(ctx, jobID)
			return fmt.Errorf("pop tasks for job %s: %w", jobID, err)
		}
		if len(tasks) == 0 {
			return d.finalize(ctx, jobID)
		}

		for _, task := range tasks {
			if d.now().After(deadline) {
				return d.rearm(ctx, jobID)
			}

			// Cancellation wins over everything; counters stay as recorded.
			cur, err := d.jobs.FindByID(ctx, nil, jobID)
			if err != nil {
				d.release(ctx, jobID)
				return fmt.Errorf("re-read job %s: %w", jobID, err)
			}
			if cur.Status == model.BatchJobStatusCancelled {
				d.log.Info().Str("job_id", jobID).Msg("cancellation observed, stopping")
				return nil
			}

			d.processTask(ctx, task, org, promptByID, modelByProvider)
		}
	}
}

func (d *Driver) processTask(
	ctx context.Context,
	task *model.JobTask,
	org *model.Org,
	promptByID map[string]*model.TrackedPrompt,
	modelByProvider map[string]string,
) {
	prompt, found := promptByID[task.PromptID]
	if !found {
		// Prompt deactivated after fan-out; resolve the task rather than wedge the job.
		task.Outcome = model.TaskOutcomeFailed
		task.LastError = "tracked prompt no longer active"
		d.record(ctx, task)
		return
	}

	res := d.exec.Call(ctx, task.Provider, modelByProvider[task.Provider], prompt.Text)
	task.Attempts += res.Attempts

	if res.Outcome == OutcomeSucceeded {
		task.Outcome = model.TaskOutcomeSucceeded
		task.LastError = ""
		task.AnswerTokens = res.Answer.PromptTokens + res.Answer.CompletionTokens
		if d.extractor != nil {
			m := d.extractor.Extract(res.Answer.Text, org.BrandName, org.Competitors)
			task.BrandMentioned = m.BrandMentioned
			task.CompetitorMentions = m.CompetitorMentions
		}
	} else {
		task.Outcome = model.TaskOutcomeFailed
		if res.Err != nil {
			task.LastError = res.Err.Error()
		}
	}
	d.record(ctx, task)
}

func (d *Driver) record(ctx context.Context, task *model.JobTask) {
	if err := d.jobs.RecordOutcome(ctx, task); err != nil {
		d.log.Error().Err(err).Str("task_id", task.ID).Str("job_id", task.JobID).
			Msg("failed to record task outcome")
	}
}

// rearm releases the claim and hands the job to a fresh invocation.
func (d *Driver) rearm(ctx context.Context, jobID string) error {
	metrics.IncDriverBudgetExhausted()
	d.release(ctx, jobID)
	if err := d.cont.Continue(jobID); err != nil {
		// The job stays claimable; a forced trigger run or an operator
		// reclaim resumes it.
		d.log.Error().Err(err).Str("job_id", jobID).Msg("failed to schedule continuation")
		return err
	}
	d.log.Info().Str("job_id", jobID).Msg("budget exhausted, continuation scheduled")
	return nil
}

func (d *Driver) release(ctx context.Context, jobID string) {
	if err := d.jobs.Release(ctx, jobID); err != nil {
		d.log.Error().Err(err).Str("job_id", jobID).Msg("failed to release claim")
	}
}

// finalize is only reached with no pending tasks left. A job fails outright
// only when every task failed; partial failure completes with the failure
// counters and a summary message.
func (d *Driver) finalize(ctx context.Context, jobID string) error {
	job, err := d.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return fmt.Errorf("read job %s for finalize: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	status := model.BatchJobStatusCompleted
	errMsg := ""
	if job.FailedTasks > 0 {
		errMsg = fmt.Sprintf("%d of %d tasks failed", job.FailedTasks, job.TotalTasks)
		if job.FailedTasks == job.TotalTasks {
			status = model.BatchJobStatusFailed
		}
	}

	if err := d.jobs.Finalize(ctx, jobID, status, errMsg); err != nil {
		if err == domain.ErrJobTerminal {
			return nil
		}
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}

	metrics.IncBatchJob(string(status))
	metrics.ObserveJobDuration(d.now().Sub(job.CreatedAt).Seconds())
	d.log.Info().Str("job_id", jobID).Str("status", string(status)).
		Int("completed", job.CompletedTasks).Int("failed", job.FailedTasks).
		Msg("job finalized")
	return nil
}
