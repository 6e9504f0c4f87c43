package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/domain"
	red "ai-brand-monitor/internal/infra/redis"
	"ai-brand-monitor/internal/usecase"
)

// DailyTrigger fires the org sweep once per day at a fixed UTC wall-clock
// time. A redis lock keyed by date keeps multiple instances from double
// triggering.
type DailyTrigger struct {
	at        string // "HH:MM" UTC
	triggerUC usecase.TriggerUseCase
	locker    red.Locker
	now       func() time.Time
	log       *zerolog.Logger
}

func NewDailyTrigger(at string, triggerUC usecase.TriggerUseCase, locker red.Locker, logger *zerolog.Logger) (*DailyTrigger, error) {
	if _, err := time.Parse("15:04", at); err != nil {
		return nil, fmt.Errorf("daily trigger time %q: %w", at, domain.ErrInvalidArgument)
	}
	trigLog := logger.With().Str("component", "DailyTrigger").Logger()
	return &DailyTrigger{
		at:        at,
		triggerUC: triggerUC,
		locker:    locker,
		now:       time.Now,
		log:       &trigLog,
	}, nil
}

func (t *DailyTrigger) Run(ctx context.Context) error {
	t.log.Info().Str("at", t.at).Msg("Starting daily trigger")
	for {
		wait := t.untilNext()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.log.Info().Msg("Stopping daily trigger")
			return ctx.Err()
		case <-timer.C:
			t.fire(ctx)
		}
	}
}

func (t *DailyTrigger) untilNext() time.Duration {
	now := t.now().UTC()
	target, _ := time.Parse("15:04", t.at)
	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (t *DailyTrigger) fire(ctx context.Context) {
	date := t.now().UTC().Format("2006-01-02")
	key := red.DailyTriggerKey(date)

	if _, err := t.locker.TryLock(ctx, key, 23*time.Hour); err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			t.log.Info().Str("date", date).Msg("another instance already triggered today")
			return
		}
		// On a lock error proceed anyway; the idempotency layer deduplicates.
		t.log.Warn().Err(err).Str("date", date).Msg("daily trigger lock error")
	}

	report, err := t.triggerUC.Run(ctx, false, "scheduler")
	if err != nil {
		t.log.Error().Err(err).Str("date", date).Msg("daily trigger run failed")
		return
	}
	t.log.Info().Str("date", report.Date).Int("orgs", report.TotalOrgs).
		Int("started", report.SuccessfulJobs).Int("failed", report.FailedJobs).
		Msg("daily trigger run finished")
}
