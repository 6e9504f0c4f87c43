package model

import "time"

type BatchJobStatus string

const (
	BatchJobStatusPending    BatchJobStatus = "pending"
	BatchJobStatusProcessing BatchJobStatus = "processing"
	BatchJobStatusCompleted  BatchJobStatus = "completed"
	BatchJobStatusFailed     BatchJobStatus = "failed"
	BatchJobStatusCancelled  BatchJobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never change again.
func (s BatchJobStatus) IsTerminal() bool {
	switch s {
	case BatchJobStatusCompleted, BatchJobStatusFailed, BatchJobStatusCancelled:
		return true
	}
	return false
}

// BatchJob is one "run all tracked prompts against all enabled providers"
// unit of work for one org. Counters and the driver_active flag are the only
// state shared across concurrent actors; they are mutated exclusively through
// atomic repository operations.
type BatchJob struct {
	ID             string
	OrgID          string
	Status         BatchJobStatus
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	ErrorMessage   string
	DriverActive   bool
	DriverRuns     int
	DriverLastPing time.Time
	TriggerSource  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining is the number of tasks not yet resolved.
func (j *BatchJob) Remaining() int {
	return j.TotalTasks - j.CompletedTasks - j.FailedTasks
}

type TaskOutcome string

const (
	TaskOutcomePending   TaskOutcome = "pending"
	TaskOutcomeSucceeded TaskOutcome = "succeeded"
	TaskOutcomeFailed    TaskOutcome = "failed"
)

// JobTask is one (tracked prompt, provider) pair inside a batch job.
// Tasks are owned by exactly one job and never referenced across jobs.
type JobTask struct {
	ID        string
	JobID     string
	PromptID  string
	Provider  string
	Attempts  int
	LastError string
	Outcome   TaskOutcome

	// Recorded analysis of the provider's answer.
	BrandMentioned     bool
	CompetitorMentions int
	AnswerTokens       int

	CreatedAt time.Time
	UpdatedAt time.Time
}
