package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ai-brand-monitor/internal/domain/ports/adapter"
	"ai-brand-monitor/internal/infra/breaker"
	"ai-brand-monitor/internal/infra/metrics"
	red "ai-brand-monitor/internal/infra/redis"
)

type CallOutcome string

const (
	OutcomeSucceeded CallOutcome = "succeeded"
	OutcomePermanent CallOutcome = "permanent"
	OutcomeTransient CallOutcome = "transient"
)

// CallResult is the executor's classified verdict on one task's provider call.
type CallResult struct {
	Outcome  CallOutcome
	Answer   adapter.Answer
	Attempts int
	Err      error
}

// Providers resolves a provider name to its adapter; satisfied by ai.Registry.
type Providers interface {
	Ask(ctx context.Context, provider, model, prompt string) (adapter.Answer, error)
}

// Executor issues one provider call with the provider retry policy applied:
// permanent failures (auth/validation) are never retried, transient ones get
// up to retryMax retries after the initial attempt, with exponential backoff
// before each retry. Every attempt is gated by the circuit breaker, and the
// shared rate limiter when one is wired.
type Executor struct {
	providers Providers
	breakers  *breaker.Registry
	limiter   *red.RateLimiter
	rateLimit int

	retryMax    int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	log *zerolog.Logger
}

func NewExecutor(providers Providers, breakers *breaker.Registry, limiter *red.RateLimiter, rateLimit, retryMax int, logger *zerolog.Logger) *Executor {
	if retryMax <= 0 {
		retryMax = 3
	}
	execLog := logger.With().Str("component", "Executor").Logger()
	return &Executor{
		providers:   providers,
		breakers:    breakers,
		limiter:     limiter,
		rateLimit:   rateLimit,
		retryMax:    retryMax,
		backoffBase: time.Second,
		sleep:       sleepCtx,
		log:         &execLog,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Call runs the full retry schedule for one (provider, prompt) task.
func (e *Executor) Call(ctx context.Context, provider, model, prompt string) CallResult {
	var lastErr error

	maxAttempts := e.retryMax + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !e.breakers.Allow(provider) {
			// Short-circuit: counted as transient, no network call made.
			metrics.IncProviderCall(provider, "short_circuit")
			return CallResult{
				Outcome:  OutcomeTransient,
				Attempts: attempt - 1,
				Err:      errors.New("circuit open for provider " + provider),
			}
		}

		if e.limiter != nil && e.rateLimit > 0 {
			ok, err := e.limiter.Allow(ctx, red.ProviderCallKey(provider), e.rateLimit, time.Minute)
			if err == nil && !ok {
				metrics.IncProviderRateLimited(provider)
				return CallResult{
					Outcome:  OutcomeTransient,
					Attempts: attempt - 1,
					Err:      errors.New("rate limit exceeded for provider " + provider),
				}
			}
			// A limiter error is ignored: redis being down must not stop calls.
		}

		start := time.Now()
		ans, err := e.providers.Ask(ctx, provider, model, prompt)
		latencyMs := int(time.Since(start) / time.Millisecond)

		if err == nil {
			e.breakers.ReportSuccess(provider)
			metrics.IncProviderCall(provider, string(OutcomeSucceeded))
			metrics.ObserveProviderLatency(provider, latencyMs, true)
			metrics.AddProviderTokens(provider, ans.PromptTokens, ans.CompletionTokens)
			return CallResult{Outcome: OutcomeSucceeded, Answer: ans, Attempts: attempt}
		}

		lastErr = err
		e.breakers.ReportFailure(provider)
		metrics.ObserveProviderLatency(provider, latencyMs, false)

		var callErr *adapter.CallError
		if errors.As(err, &callErr) && callErr.Permanent() {
			metrics.IncProviderCall(provider, string(OutcomePermanent))
			e.log.Warn().Err(err).Str("provider", provider).Int("attempt", attempt).
				Msg("permanent provider failure, not retrying")
			return CallResult{Outcome: OutcomePermanent, Attempts: attempt, Err: err}
		}

		if attempt < maxAttempts {
			delay := e.backoffBase << (attempt - 1) // 1s, 2s, 4s
			metrics.IncProviderRetry(provider)
			e.log.Debug().Err(err).Str("provider", provider).Int("attempt", attempt).
				Dur("backoff", delay).Msg("transient provider failure, retrying")
			if err := e.sleep(ctx, delay); err != nil {
				return CallResult{Outcome: OutcomeTransient, Attempts: attempt, Err: err}
			}
		}
	}

	metrics.IncProviderCall(provider, string(OutcomeTransient))
	return CallResult{Outcome: OutcomeTransient, Attempts: maxAttempts, Err: lastErr}
}
