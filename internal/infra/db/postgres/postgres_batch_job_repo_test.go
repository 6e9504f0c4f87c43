//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
)

func seedOrg(t *testing.T) string {
	t.Helper()
	orgID := uuid.NewString()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO orgs (id, name, brand_name) VALUES ($1, 'Acme', 'Acme')`, orgID)
	if err != nil {
		t.Fatalf("failed to seed org: %v", err)
	}
	return orgID
}

func seedJob(t *testing.T, repo *batchJobRepo, orgID string, taskCount int) *model.BatchJob {
	t.Helper()
	job := &model.BatchJob{
		ID:     uuid.NewString(),
		OrgID:  orgID,
		Status: model.BatchJobStatusPending,
	}
	tasks := make([]*model.JobTask, 0, taskCount)
	for i := 0; i < taskCount; i++ {
		tasks = append(tasks, &model.JobTask{PromptID: uuid.NewString(), Provider: "openai"})
	}
	if err := repo.Create(context.Background(), nil, job, tasks); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	return job
}

func TestBatchJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	tm := NewTxManager(testPool)
	repo := NewBatchJobRepo(testPool, tm)

	t.Run("create persists job and fan-out", func(t *testing.T) {
		cleanup(t)
		orgID := seedOrg(t)
		job := seedJob(t, repo, orgID, 4)

		got, err := repo.FindByID(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.TotalTasks != 4 || got.Status != model.BatchJobStatusPending {
			t.Fatalf("unexpected job %+v", got)
		}

		tasks, err := repo.NextPendingTasks(ctx, job.ID, 10)
		if err != nil {
			t.Fatalf("pop tasks: %v", err)
		}
		if len(tasks) != 4 {
			t.Fatalf("expected 4 pending tasks, got %d", len(tasks))
		}
	})

	t.Run("claim is exclusive until released", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 1)

		ok, err := repo.Claim(ctx, job.ID)
		if err != nil || !ok {
			t.Fatalf("first claim: ok=%v err=%v", ok, err)
		}
		ok, err = repo.Claim(ctx, job.ID)
		if err != nil {
			t.Fatalf("second claim: %v", err)
		}
		if ok {
			t.Fatal("expected second claim rejected while held")
		}

		if err := repo.Release(ctx, job.ID); err != nil {
			t.Fatalf("release: %v", err)
		}
		ok, _ = repo.Claim(ctx, job.ID)
		if !ok {
			t.Fatal("expected claim after release")
		}
	})

	t.Run("concurrent claims admit exactly one driver", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 1)

		const drivers = 8
		var wg sync.WaitGroup
		wins := make(chan bool, drivers)
		for i := 0; i < drivers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.Claim(ctx, job.ID)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				wins <- ok
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for ok := range wins {
			if ok {
				won++
			}
		}
		if won != 1 {
			t.Fatalf("expected exactly one winning claim, got %d", won)
		}
	})

	t.Run("record outcome moves counters once per task", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 2)
		tasks, _ := repo.NextPendingTasks(ctx, job.ID, 10)

		tasks[0].Outcome = model.TaskOutcomeSucceeded
		tasks[0].Attempts = 1
		tasks[0].BrandMentioned = true
		tasks[0].AnswerTokens = 42
		if err := repo.RecordOutcome(ctx, tasks[0]); err != nil {
			t.Fatalf("record success: %v", err)
		}

		tasks[1].Outcome = model.TaskOutcomeFailed
		tasks[1].Attempts = 3
		tasks[1].LastError = "boom"
		if err := repo.RecordOutcome(ctx, tasks[1]); err != nil {
			t.Fatalf("record failure: %v", err)
		}

		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.CompletedTasks != 1 || got.FailedTasks != 1 {
			t.Fatalf("expected 1/1 counters, got %d/%d", got.CompletedTasks, got.FailedTasks)
		}

		// A duplicate record of the same task must be a no-op.
		if err := repo.RecordOutcome(ctx, tasks[0]); err != nil {
			t.Fatalf("duplicate record: %v", err)
		}
		got, _ = repo.FindByID(ctx, nil, job.ID)
		if got.CompletedTasks != 1 {
			t.Fatalf("expected duplicate ignored, got %d completed", got.CompletedTasks)
		}

		if remaining, _ := repo.NextPendingTasks(ctx, job.ID, 10); len(remaining) != 0 {
			t.Fatalf("expected no pending tasks, got %d", len(remaining))
		}
	})

	t.Run("counters can never pass total_tasks", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 1)
		tasks, _ := repo.NextPendingTasks(ctx, job.ID, 10)

		tasks[0].Outcome = model.TaskOutcomeSucceeded
		if err := repo.RecordOutcome(ctx, tasks[0]); err != nil {
			t.Fatalf("record: %v", err)
		}

		// Force a second pending task onto the full job to hit the guard.
		extraID := uuid.NewString()
		_, err := testPool.Exec(ctx,
			`INSERT INTO batch_tasks (id, job_id, prompt_id, provider) VALUES ($1, $2, 'p-x', 'openai')`,
			extraID, job.ID)
		if err != nil {
			t.Fatalf("seed extra task: %v", err)
		}
		extra := &model.JobTask{ID: extraID, JobID: job.ID, Outcome: model.TaskOutcomeSucceeded}
		if err := repo.RecordOutcome(ctx, extra); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected invariant violation surfaced, got %v", err)
		}

		// The rejected transaction must not have resolved the task either.
		var outcome string
		testPool.QueryRow(ctx, `SELECT outcome FROM batch_tasks WHERE id = $1`, extraID).Scan(&outcome)
		if outcome != "pending" {
			t.Fatalf("expected rolled-back task to stay pending, got %s", outcome)
		}
	})

	t.Run("finalize refuses to overwrite a terminal status", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 1)

		if err := repo.Finalize(ctx, job.ID, model.BatchJobStatusCompleted, ""); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		err := repo.Finalize(ctx, job.ID, model.BatchJobStatusFailed, "late")
		if !errors.Is(err, domain.ErrJobTerminal) {
			t.Fatalf("expected ErrJobTerminal, got %v", err)
		}

		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.Status != model.BatchJobStatusCompleted {
			t.Fatalf("expected completed preserved, got %s", got.Status)
		}
	})

	t.Run("cancel terminal job is rejected", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 1)
		if err := repo.Cancel(ctx, job.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := repo.Cancel(ctx, job.ID); !errors.Is(err, domain.ErrJobTerminal) {
			t.Fatalf("expected ErrJobTerminal, got %v", err)
		}
	})

	t.Run("reclaim abandoned claim", func(t *testing.T) {
		cleanup(t)
		job := seedJob(t, repo, seedOrg(t), 1)
		if ok, _ := repo.Claim(ctx, job.ID); !ok {
			t.Fatal("claim failed")
		}

		// Fresh heartbeat: reclaim must refuse.
		if err := repo.Heartbeat(ctx, job.ID); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
		err := repo.ReclaimAbandoned(ctx, job.ID, time.Minute)
		if !errors.Is(err, domain.ErrDriverStillLive) {
			t.Fatalf("expected ErrDriverStillLive, got %v", err)
		}

		// Age the heartbeat past the threshold.
		_, _ = testPool.Exec(ctx,
			`UPDATE batch_jobs SET driver_last_ping = now() - interval '10 minutes' WHERE id = $1`, job.ID)
		if err := repo.ReclaimAbandoned(ctx, job.ID, time.Minute); err != nil {
			t.Fatalf("reclaim: %v", err)
		}

		if ok, _ := repo.Claim(ctx, job.ID); !ok {
			t.Fatal("expected job claimable after reclaim")
		}
	})
}
