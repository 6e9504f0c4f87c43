package breaker

import (
	"sync"
	"time"

	"ai-brand-monitor/internal/infra/metrics"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// EndpointStatus is the read-only diagnostic view of one endpoint.
type EndpointStatus struct {
	State               State `json:"state"`
	ConsecutiveFailures int   `json:"failures"`
}

type endpoint struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool // one trial call in flight while half-open
}

// Registry holds per-endpoint breaker state for one process. It is
// constructed once and injected; state is intentionally not persisted, a
// restart starts every endpoint closed.
type Registry struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	endpoints map[string]*endpoint
}

func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Registry{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		endpoints: make(map[string]*endpoint),
	}
}

func (r *Registry) get(name string) *endpoint {
	ep := r.endpoints[name]
	if ep == nil {
		ep = &endpoint{state: StateClosed}
		r.endpoints[name] = ep
	}
	return ep
}

// Allow reports whether a call to the endpoint may be attempted now.
// An open endpoint whose cooldown has elapsed moves to half-open and admits
// exactly one probe; everything else is short-circuited.
func (r *Registry) Allow(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep := r.get(name)
	switch ep.state {
	case StateClosed:
		return true
	case StateOpen:
		if r.now().Sub(ep.openedAt) < r.cooldown {
			return false
		}
		ep.state = StateHalfOpen
		ep.probing = true
		metrics.SetBreakerState(name, string(StateHalfOpen))
		return true
	case StateHalfOpen:
		if ep.probing {
			return false
		}
		ep.probing = true
		return true
	}
	return false
}

// ReportSuccess resets the endpoint to closed.
func (r *Registry) ReportSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep := r.get(name)
	ep.state = StateClosed
	ep.failures = 0
	ep.probing = false
	metrics.SetBreakerState(name, string(StateClosed))
}

// ReportFailure counts one failure; reaching the threshold (or failing the
// half-open probe) opens the endpoint and restarts the cooldown.
func (r *Registry) ReportFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep := r.get(name)
	ep.failures++
	if ep.state == StateHalfOpen || ep.failures >= r.threshold {
		ep.state = StateOpen
		ep.openedAt = r.now()
		ep.probing = false
		metrics.SetBreakerState(name, string(StateOpen))
	}
}

// Status snapshots every known endpoint for diagnostics. It never mutates.
func (r *Registry) Status() map[string]EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]EndpointStatus, len(r.endpoints))
	for name, ep := range r.endpoints {
		out[name] = EndpointStatus{State: ep.state, ConsecutiveFailures: ep.failures}
	}
	return out
}
