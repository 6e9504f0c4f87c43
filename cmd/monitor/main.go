package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-brand-monitor/internal/config"
	"ai-brand-monitor/internal/infra/logging"
	"ai-brand-monitor/internal/infra/web"
	"ai-brand-monitor/internal/monitor"
)

// Exit codes: 0 every job completed, 1 jobs failed or ran past the deadline,
// 2 the CLI itself was misconfigured or could not reach the API.
const (
	exitOK      = 0
	exitPartial = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	apiURL := flag.String("api", envOr("MONITOR_API_URL", "http://localhost:8080"), "base URL of the batch API")
	force := flag.Bool("force", false, "re-drive jobs that already exist for today")
	noMonitor := flag.Bool("no-monitor", false, "trigger only, do not wait for completion")
	timeoutMin := flag.Int("timeout", 30, "minutes to wait for jobs to finish")
	flag.Parse()

	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)

	serviceSecret := os.Getenv("SERVICE_SECRET")
	triggerSecret := os.Getenv("TRIGGER_SECRET")
	if serviceSecret == "" || triggerSecret == "" {
		fmt.Fprintln(os.Stderr, "SERVICE_SECRET and TRIGGER_SECRET must be set")
		return exitUsage
	}
	if *timeoutMin <= 0 {
		fmt.Fprintln(os.Stderr, "timeout must be positive")
		return exitUsage
	}

	token, err := web.NewServiceAuth(serviceSecret, time.Duration(*timeoutMin+5)*time.Minute).Mint("monitor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint service token: %v\n", err)
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := monitor.NewClient(*apiURL, token, triggerSecret).Trigger(ctx, *force)
	if err != nil {
		logger.Error().Err(err).Msg("trigger failed")
		return exitUsage
	}
	logger.Info().Str("date", report.Date).Int("orgs", report.TotalOrgs).
		Int("started", report.SuccessfulJobs).Int("failed", report.FailedJobs).
		Msg("daily batch triggered")
	for _, r := range report.OrgResults {
		logger.Info().Str("org", r.OrgName).Str("job_id", r.BatchJobID).
			Str("action", r.Action).Str("error", r.Error).Msg("org result")
	}

	if *noMonitor {
		if report.FailedJobs > 0 {
			return exitPartial
		}
		return exitOK
	}

	jobIDs := report.JobIDs()
	if len(jobIDs) == 0 {
		logger.Info().Msg("no jobs to watch")
		if report.FailedJobs > 0 {
			return exitPartial
		}
		return exitOK
	}

	watcher := monitor.NewWatcher(*apiURL, token, 0, logger)
	result, err := watcher.Watch(ctx, jobIDs, time.Duration(*timeoutMin)*time.Minute)
	if err != nil {
		logger.Error().Err(err).Msg("watch failed")
		return exitPartial
	}

	logger.Info().Int("completed", result.Completed).Int("failed", result.Failed).
		Int("cancelled", result.Cancelled).Int("pending", result.Pending).
		Bool("timed_out", result.TimedOut).Msg("watch finished")
	for _, id := range result.Stalled {
		logger.Warn().Str("job_id", id).Msg("driver appears stalled; consider a reclaim")
	}

	if result.AllDone() && result.Failed == 0 && report.FailedJobs == 0 {
		return exitOK
	}
	return exitPartial
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
