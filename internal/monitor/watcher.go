package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// JobView is the subset of the job API response the watcher cares about.
type JobView struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TotalTasks     int        `json:"totalTasks"`
	CompletedTasks int        `json:"completedTasks"`
	FailedTasks    int        `json:"failedTasks"`
	ErrorMessage   string     `json:"errorMessage"`
	DriverActive   bool       `json:"driverActive"`
	DriverLastPing *time.Time `json:"driverLastPing"`
}

func (v *JobView) Terminal() bool {
	switch v.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// CompletionReport summarizes what the watcher saw when it stopped.
type CompletionReport struct {
	Jobs      []JobView
	Completed int
	Failed    int
	Cancelled int
	Pending   int
	Stalled   []string
	TimedOut  bool
}

// AllDone reports whether every watched job reached a terminal status.
func (r *CompletionReport) AllDone() bool {
	return r.Pending == 0 && !r.TimedOut
}

// Watcher polls the batch API until every watched job is terminal or the
// deadline passes. It is read-only: stalled jobs are reported, never reclaimed.
type Watcher struct {
	baseURL string
	token   string
	client  *http.Client

	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	log        *zerolog.Logger
}

func NewWatcher(baseURL, token string, staleAfter time.Duration, logger *zerolog.Logger) *Watcher {
	if staleAfter <= 0 {
		staleAfter = 3 * 55 * time.Second
	}
	wLog := logger.With().Str("component", "Watcher").Logger()
	return &Watcher{
		baseURL:    baseURL,
		token:      token,
		client:     &http.Client{Timeout: 15 * time.Second},
		interval:   10 * time.Second,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        &wLog,
	}
}

// Watch blocks until every job in jobIDs is terminal, ctx is cancelled, or
// timeout elapses.
func (w *Watcher) Watch(ctx context.Context, jobIDs []string, timeout time.Duration) (*CompletionReport, error) {
	deadline := w.now().Add(timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		report, err := w.poll(ctx, jobIDs)
		if err != nil {
			return nil, err
		}
		if report.Pending == 0 {
			return report, nil
		}
		if !w.now().Before(deadline) {
			report.TimedOut = true
			return report, nil
		}

		w.log.Info().Int("pending", report.Pending).Int("completed", report.Completed).
			Int("failed", report.Failed).Msg("jobs still running")

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context, jobIDs []string) (*CompletionReport, error) {
	report := &CompletionReport{Jobs: make([]JobView, 0, len(jobIDs))}
	for _, id := range jobIDs {
		view, err := w.fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch job %s: %w", id, err)
		}
		report.Jobs = append(report.Jobs, *view)

		switch view.Status {
		case "completed":
			report.Completed++
		case "failed":
			report.Failed++
		case "cancelled":
			report.Cancelled++
		default:
			report.Pending++
			if w.stalled(view) {
				report.Stalled = append(report.Stalled, view.ID)
			}
		}
	}
	return report, nil
}

// stalled flags a non-terminal job whose driver claim looks abandoned.
func (w *Watcher) stalled(view *JobView) bool {
	if !view.DriverActive || view.DriverLastPing == nil {
		return false
	}
	return w.now().Sub(*view.DriverLastPing) > w.staleAfter
}

func (w *Watcher) fetch(ctx context.Context, jobID string) (*JobView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/api/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var view JobView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}
