package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(breakerState)
}

// 0=closed, 1=half_open, 2=open
var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state per endpoint (0=closed, 1=half_open, 2=open).",
	},
	[]string{"endpoint"},
)

func SetBreakerState(endpoint, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(norm(endpoint)).Set(v)
}
