package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/ports/repository"
	"ai-brand-monitor/internal/infra/metrics"
	"ai-brand-monitor/internal/infra/worker"
)

var _ TriggerUseCase = (*triggerUC)(nil)

// OrgResult is the per-org outcome of one trigger run.
type OrgResult struct {
	OrgID         string `json:"orgId"`
	OrgName       string `json:"orgName"`
	BatchJobID    string `json:"batchJobId,omitempty"`
	Action        string `json:"action"`
	DriverStarted bool   `json:"driverStarted"`
	Error         string `json:"error,omitempty"`
}

// TriggerReport summarizes a full daily-batch trigger run.
type TriggerReport struct {
	Success        bool        `json:"success"`
	Date           string      `json:"date"`
	TotalOrgs      int         `json:"totalOrgs"`
	SuccessfulJobs int         `json:"successfulJobs"`
	FailedJobs     int         `json:"failedJobs"`
	OrgResults     []OrgResult `json:"orgResults"`
}

const (
	ActionCreated = "created"
	ActionReused  = "reused"
	ActionSkipped = "skipped"
	ActionFailed  = "failed"
)

// TriggerUseCase fans the daily batch out across every eligible org. One
// org failing never stops the sweep.
type TriggerUseCase interface {
	// Run resolves one job per eligible org and starts a driver for each job
	// that needs work. With force set, existing non-terminal jobs are
	// re-driven instead of skipped.
	Run(ctx context.Context, force bool, source string) (*TriggerReport, error)
}

type triggerUC struct {
	orgs    repository.OrgRepository
	enqueue EnqueueUseCase
	cont    worker.Continuations
	now     func() time.Time
	log     *zerolog.Logger
}

func NewTriggerUseCase(
	orgs repository.OrgRepository,
	enqueue EnqueueUseCase,
	cont worker.Continuations,
	logger *zerolog.Logger,
) *triggerUC {
	ucLog := logger.With().Str("component", "TriggerUC").Logger()
	return &triggerUC{
		orgs:    orgs,
		enqueue: enqueue,
		cont:    cont,
		now:     time.Now,
		log:     &ucLog,
	}
}

func (u *triggerUC) Run(ctx context.Context, force bool, source string) (*TriggerReport, error) {
	orgs, err := u.orgs.ListEligible(ctx, nil)
	if err != nil {
		return nil, err
	}

	report := &TriggerReport{
		Date:       u.now().UTC().Format("2006-01-02"),
		TotalOrgs:  len(orgs),
		OrgResults: make([]OrgResult, 0, len(orgs)),
	}

	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := u.triggerOrg(ctx, org.ID, org.Name, force, source)
		if res.Action == ActionFailed {
			report.FailedJobs++
		} else if res.DriverStarted {
			report.SuccessfulJobs++
		}
		metrics.IncTriggerOrg(res.Action)
		report.OrgResults = append(report.OrgResults, res)
	}

	report.Success = report.FailedJobs == 0
	u.log.Info().Str("date", report.Date).Int("orgs", report.TotalOrgs).
		Int("started", report.SuccessfulJobs).Int("failed", report.FailedJobs).
		Msg("trigger run finished")
	return report, nil
}

func (u *triggerUC) triggerOrg(ctx context.Context, orgID, orgName string, force bool, source string) OrgResult {
	res := OrgResult{OrgID: orgID, OrgName: orgName}

	eq, err := u.enqueue.Resolve(ctx, orgID, ScopeOrg, nil, "", source)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligiblePrompts) {
			res.Action = ActionSkipped
			return res
		}
		u.log.Error().Err(err).Str("org_id", orgID).Msg("org trigger failed")
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	res.BatchJobID = eq.JobID
	if eq.IsNew {
		res.Action = ActionCreated
	} else {
		res.Action = ActionReused
		if !force {
			res.Action = ActionSkipped
			return res
		}
	}

	if err := u.cont.Continue(eq.JobID); err != nil {
		u.log.Error().Err(err).Str("job_id", eq.JobID).Msg("failed to start driver")
		res.Error = err.Error()
		return res
	}
	res.DriverStarted = true
	return res
}
