package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerCallsTotal,
		providerCallLatencyMs,
		providerRetriesTotal,
		providerTokensTotal,
		providerRateLimited,
	)
}

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Provider call outcomes (succeeded/transient/permanent/short_circuit).",
		},
		[]string{"provider", "outcome"},
	)

	providerCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Provider call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "success"},
	)

	providerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Retry attempts per provider.",
		},
		[]string{"provider"},
	)

	providerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_tokens_total",
			Help: "Sum of prompt+completion tokens per provider.",
		},
		[]string{"provider", "direction"},
	)

	providerRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_rate_limited_total",
			Help: "Calls deferred by the per-provider rate limiter.",
		},
		[]string{"provider"},
	)
)

func IncProviderCall(provider, outcome string) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func ObserveProviderLatency(provider string, latencyMs int, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	providerCallLatencyMs.WithLabelValues(norm(provider), s).Observe(float64(latencyMs))
}

func IncProviderRetry(provider string) {
	providerRetriesTotal.WithLabelValues(norm(provider)).Inc()
}

func AddProviderTokens(provider string, promptTokens, completionTokens int) {
	providerTokensTotal.WithLabelValues(norm(provider), "in").Add(float64(promptTokens))
	providerTokensTotal.WithLabelValues(norm(provider), "out").Add(float64(completionTokens))
}

func IncProviderRateLimited(provider string) {
	providerRateLimited.WithLabelValues(norm(provider)).Inc()
}
