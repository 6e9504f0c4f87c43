//go:build !integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/adapter"
	"ai-brand-monitor/internal/domain/ports/repository"
	"ai-brand-monitor/internal/infra/breaker"
)

// ---- In-memory ledger fake ----

type memJobRepo struct {
	mu    sync.Mutex
	jobs  map[string]*model.BatchJob
	tasks map[string][]*model.JobTask // jobID -> tasks

	// cancelAfter flips the job to cancelled once that many outcomes landed.
	cancelAfter int
	recorded    int
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{
		jobs:        make(map[string]*model.BatchJob),
		tasks:       make(map[string][]*model.JobTask),
		cancelAfter: -1,
	}
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.BatchJob, tasks []*model.JobTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.TotalTasks = len(tasks)
	job.CreatedAt = time.Now()
	m.jobs[job.ID] = job
	for i, task := range tasks {
		task.ID = fmt.Sprintf("%s-t%d", job.ID, i)
		task.JobID = job.ID
		task.Outcome = model.TaskOutcomePending
		m.tasks[job.ID] = append(m.tasks[job.ID], task)
	}
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobRepo) Claim(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.DriverActive || job.Status.IsTerminal() {
		return false, nil
	}
	job.DriverActive = true
	job.Status = model.BatchJobStatusProcessing
	return true, nil
}

func (m *memJobRepo) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.DriverActive = false
	}
	return nil
}

func (m *memJobRepo) Heartbeat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.DriverRuns++
	job.DriverLastPing = time.Now()
	return nil
}

func (m *memJobRepo) RecordOutcome(ctx context.Context, task *model.JobTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[task.JobID]
	for _, stored := range m.tasks[task.JobID] {
		if stored.ID != task.ID {
			continue
		}
		if stored.Outcome != model.TaskOutcomePending {
			return nil
		}
		if job.CompletedTasks+job.FailedTasks >= job.TotalTasks {
			return fmt.Errorf("counters would exceed total: %w", domain.ErrInvalidArgument)
		}
		*stored = *task
		if task.Outcome == model.TaskOutcomeSucceeded {
			job.CompletedTasks++
		} else {
			job.FailedTasks++
		}
		m.recorded++
		if m.cancelAfter >= 0 && m.recorded >= m.cancelAfter {
			job.Status = model.BatchJobStatusCancelled
		}
		return nil
	}
	return domain.ErrNotFound
}

func (m *memJobRepo) Finalize(ctx context.Context, id string, status model.BatchJobStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	job.DriverActive = false
	return nil
}

func (m *memJobRepo) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	job.Status = model.BatchJobStatusCancelled
	return nil
}

func (m *memJobRepo) NextPendingTasks(ctx context.Context, jobID string, limit int) ([]*model.JobTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.JobTask
	for _, task := range m.tasks[jobID] {
		if task.Outcome != model.TaskOutcomePending {
			continue
		}
		cp := *task
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memJobRepo) ReclaimAbandoned(ctx context.Context, id string, staleAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	if !job.DriverActive {
		return nil
	}
	if time.Since(job.DriverLastPing) <= staleAfter {
		return domain.ErrDriverStillLive
	}
	job.DriverActive = false
	return nil
}

func (m *memJobRepo) pendingCount(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, task := range m.tasks[jobID] {
		if task.Outcome == model.TaskOutcomePending {
			n++
		}
	}
	return n
}

// ---- Org catalog fake ----

type memOrgRepo struct {
	org        *model.Org
	prompts    []*model.TrackedPrompt
	settings   []*model.ProviderSetting
	promptsErr error
}

func (m *memOrgRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Org, error) {
	if m.org == nil || m.org.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.org, nil
}

func (m *memOrgRepo) ListEligible(ctx context.Context, tx repository.Tx) ([]*model.Org, error) {
	if m.org == nil {
		return nil, nil
	}
	return []*model.Org{m.org}, nil
}

func (m *memOrgRepo) ActivePrompts(ctx context.Context, tx repository.Tx, orgID string) ([]*model.TrackedPrompt, error) {
	if m.promptsErr != nil {
		return nil, m.promptsErr
	}
	return m.prompts, nil
}

func (m *memOrgRepo) EnabledProviders(ctx context.Context, tx repository.Tx, orgID string) ([]*model.ProviderSetting, error) {
	return m.settings, nil
}

// ---- Continuation fake ----

type fakeCont struct {
	mu      sync.Mutex
	resumed []string
	err     error
}

func (f *fakeCont) Continue(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resumed = append(f.resumed, jobID)
	return nil
}

func (f *fakeCont) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resumed)
}

// ---- Fixture ----

type driverFixture struct {
	repo *memJobRepo
	orgs *memOrgRepo
	cont *fakeCont
	drv  *Driver
	job  *model.BatchJob
}

// newDriverFixture seeds one org with 2 prompts and 3 providers (6 tasks).
func newDriverFixture(t *testing.T, providerErrs []error) *driverFixture {
	t.Helper()

	repo := newMemJobRepo()
	orgs := &memOrgRepo{
		org: &model.Org{ID: "org-1", Name: "Acme", BrandName: "Acme", Competitors: []string{"Globex"}},
		prompts: []*model.TrackedPrompt{
			{ID: "p1", OrgID: "org-1", Text: "best crm?", Active: true},
			{ID: "p2", OrgID: "org-1", Text: "best erp?", Active: true},
		},
		settings: []*model.ProviderSetting{
			{OrgID: "org-1", Provider: "openai", Model: "gpt-4o-mini", Enabled: true},
			{OrgID: "org-1", Provider: "gemini", Model: "gemini-2.0-flash", Enabled: true},
			{OrgID: "org-1", Provider: "perplexity", Model: "sonar", Enabled: true},
		},
	}
	cont := &fakeCont{}

	exec := NewExecutor(&scriptedProviders{results: providerErrs}, breaker.NewRegistry(100, time.Minute), nil, 0, 1, newTestLogger())
	exec.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	drv := NewDriver(repo, orgs, exec, stubExtractor{}, cont, 55*time.Second, 10, newTestLogger())

	job := &model.BatchJob{ID: "job-1", OrgID: "org-1", Status: model.BatchJobStatusPending}
	var tasks []*model.JobTask
	for _, p := range orgs.prompts {
		for _, s := range orgs.settings {
			tasks = append(tasks, &model.JobTask{PromptID: p.ID, Provider: s.Provider})
		}
	}
	if err := repo.Create(context.Background(), nil, job, tasks); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return &driverFixture{repo: repo, orgs: orgs, cont: cont, drv: drv, job: job}
}

type stubExtractor struct{}

func (stubExtractor) Extract(answer, brand string, competitors []string) adapter.Mentions {
	return adapter.Mentions{BrandMentioned: true, CompetitorMentions: 1}
}

// ---- Tests ----

func TestDriverCompletesJob(t *testing.T) {
	fx := newDriverFixture(t, nil) // every provider call succeeds

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.Status != model.BatchJobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.CompletedTasks != 6 || job.FailedTasks != 0 {
		t.Fatalf("expected 6/0 counters, got %d/%d", job.CompletedTasks, job.FailedTasks)
	}
	if job.DriverActive {
		t.Fatal("expected claim released after finalize")
	}
	if job.DriverRuns != 1 {
		t.Fatalf("expected one driver run, got %d", job.DriverRuns)
	}
	if fx.cont.count() != 0 {
		t.Fatal("expected no continuation for a finished job")
	}
}

func TestDriverExitsWhenClaimHeld(t *testing.T) {
	fx := newDriverFixture(t, nil)
	fx.repo.jobs["job-1"].DriverActive = true

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.DriverRuns != 0 {
		t.Fatal("expected the duplicate invocation to exit before heartbeating")
	}
	if job.CompletedTasks != 0 {
		t.Fatal("expected no progress from the duplicate invocation")
	}
}

func TestDriverReleasesClaimOnCatalogReadFailure(t *testing.T) {
	fx := newDriverFixture(t, nil)
	fx.orgs.promptsErr = errors.New("connection reset")

	if err := fx.drv.Run(context.Background(), "job-1"); err == nil {
		t.Fatal("expected the catalog read error surfaced")
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.DriverActive {
		t.Fatal("expected claim released after the failed invocation")
	}
	if ok, _ := fx.repo.Claim(context.Background(), "job-1"); !ok {
		t.Fatal("expected the job claimable by the next invocation")
	}
}

func TestDriverBudgetExhaustionSchedulesContinuation(t *testing.T) {
	fx := newDriverFixture(t, nil)

	// First now() computes the deadline, every later call is already past it.
	calls := 0
	base := time.Now()
	fx.drv.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(fx.drv.budget + time.Second)
	}

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.DriverActive {
		t.Fatal("expected claim released on budget exhaustion")
	}
	if job.Status != model.BatchJobStatusProcessing {
		t.Fatalf("expected job left processing, got %s", job.Status)
	}
	if fx.cont.count() != 1 || fx.cont.resumed[0] != "job-1" {
		t.Fatalf("expected one continuation for job-1, got %v", fx.cont.resumed)
	}
	if fx.repo.pendingCount("job-1") != 6 {
		t.Fatal("expected all tasks still pending")
	}
}

func TestDriverBudgetExhaustionContinuationFailure(t *testing.T) {
	fx := newDriverFixture(t, nil)
	fx.cont.err = errors.New("queue full")

	calls := 0
	base := time.Now()
	fx.drv.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(fx.drv.budget + time.Second)
	}

	if err := fx.drv.Run(context.Background(), "job-1"); err == nil {
		t.Fatal("expected error when continuation cannot be scheduled")
	}

	// The claim must still be released so a later trigger can pick it up.
	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.DriverActive {
		t.Fatal("expected claim released even when continuation fails")
	}
}

func TestDriverObservesCancellationBetweenTasks(t *testing.T) {
	fx := newDriverFixture(t, nil)
	fx.repo.cancelAfter = 2

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.Status != model.BatchJobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.CompletedTasks != 2 {
		t.Fatalf("expected recorded outcomes preserved, got %d", job.CompletedTasks)
	}
	if fx.repo.pendingCount("job-1") != 4 {
		t.Fatalf("expected 4 tasks left pending, got %d", fx.repo.pendingCount("job-1"))
	}
}

func TestDriverPartialFailureCompletesWithSummary(t *testing.T) {
	permanent := &adapter.CallError{StatusCode: 401, Err: errors.New("bad key")}
	fx := newDriverFixture(t, []error{nil, permanent, nil, nil, nil, nil})

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.Status != model.BatchJobStatusCompleted {
		t.Fatalf("expected completed despite one failure, got %s", job.Status)
	}
	if job.CompletedTasks != 5 || job.FailedTasks != 1 {
		t.Fatalf("expected 5/1 counters, got %d/%d", job.CompletedTasks, job.FailedTasks)
	}
	if !strings.Contains(job.ErrorMessage, "1 of 6 tasks failed") {
		t.Fatalf("expected failure summary, got %q", job.ErrorMessage)
	}
}

func TestDriverAllTasksFailedMarksJobFailed(t *testing.T) {
	permanent := &adapter.CallError{StatusCode: 403, Err: errors.New("forbidden")}
	fx := newDriverFixture(t, []error{permanent, permanent, permanent, permanent, permanent, permanent})

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.Status != model.BatchJobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "6 of 6 tasks failed") {
		t.Fatalf("expected failure summary, got %q", job.ErrorMessage)
	}
}

func TestDriverResolvesTaskForInactivePrompt(t *testing.T) {
	fx := newDriverFixture(t, nil)
	// Deactivate one prompt after fan-out; its 3 tasks must fail, not wedge.
	fx.orgs.prompts = fx.orgs.prompts[:1]

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := fx.repo.FindByID(context.Background(), nil, "job-1")
	if job.Status != model.BatchJobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.CompletedTasks != 3 || job.FailedTasks != 3 {
		t.Fatalf("expected 3/3 counters, got %d/%d", job.CompletedTasks, job.FailedTasks)
	}
}

func TestDriverRecordsExtractedMentions(t *testing.T) {
	fx := newDriverFixture(t, nil)

	if err := fx.drv.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, task := range fx.repo.tasks["job-1"] {
		if !task.BrandMentioned || task.CompetitorMentions != 1 {
			t.Fatalf("task %s: expected extracted mentions recorded, got %+v", task.ID, task)
		}
		if task.AnswerTokens == 0 {
			t.Fatalf("task %s: expected answer tokens recorded", task.ID)
		}
	}
}
