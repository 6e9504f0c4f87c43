package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		batchJobsTotal,
		driverRunsTotal,
		driverBudgetExhausted,
		jobDurationSeconds,
		triggerOrgsTotal,
	)
}

var (
	batchJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_total",
			Help: "Batch jobs by terminal status (completed/failed/cancelled).",
		},
		[]string{"status"},
	)

	driverRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driver_runs_total",
			Help: "Driver invocations consumed across all jobs.",
		},
	)

	driverBudgetExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driver_budget_exhausted_total",
			Help: "Driver invocations that ran out of time budget and re-armed.",
		},
	)

	jobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Wall time from job creation to terminal status.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	triggerOrgsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_orgs_total",
			Help: "Per-org trigger outcomes (created/reused/skipped/failed).",
		},
		[]string{"action"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncBatchJob(status string) {
	batchJobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncDriverRun() { driverRunsTotal.Inc() }

func IncDriverBudgetExhausted() { driverBudgetExhausted.Inc() }

func ObserveJobDuration(seconds float64) { jobDurationSeconds.Observe(seconds) }

func IncTriggerOrg(action string) {
	triggerOrgsTotal.WithLabelValues(norm(action)).Inc()
}
