package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/routing"
)

// ModelStats is a point-in-time view of one model's attempt counters
type ModelStats struct {
	Model        string                     `json:"model"`
	Attempts     int                        `json:"attempts"`
	Successes    int                        `json:"successes"`
	Failures     int                        `json:"failures"`
	RateLimited  int                        `json:"rate_limited"` // rejected locally, never dispatched
	Errors       map[services.ErrorKind]int `json:"errors,omitempty"`
	TotalLatency time.Duration              `json:"total_latency"`
}

// AverageLatency returns the mean latency of dispatched attempts
func (s ModelStats) AverageLatency() time.Duration {
	dispatched := s.Attempts - s.RateLimited
	if dispatched <= 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(dispatched)
}

// Metrics counts routed attempts per model. It implements routing.Observer.
type Metrics struct {
	mu     sync.Mutex
	models map[string]*ModelStats
}

// NewMetrics creates an empty collector
func NewMetrics() *Metrics {
	return &Metrics{models: make(map[string]*ModelStats)}
}

// OnAttempt implements routing.Observer
func (m *Metrics) OnAttempt(_ context.Context, event routing.AttemptEvent) {
	res := event.Result

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.models[res.Model.ID]
	if !ok {
		s = &ModelStats{Model: res.Model.ID, Errors: make(map[services.ErrorKind]int)}
		m.models[res.Model.ID] = s
	}

	s.Attempts++
	switch {
	case res.Succeeded():
		s.Successes++
	case res.RateLimited():
		s.RateLimited++
	default:
		s.Failures++
	}
	if res.Err != nil {
		s.Errors[res.Err.Kind]++
	}
	if res.Admitted {
		s.TotalLatency += res.Latency
	}
}

// Snapshot returns a copy of every model's counters, sorted by model id
func (m *Metrics) Snapshot() []ModelStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ModelStats, 0, len(m.models))
	for _, s := range m.models {
		cp := *s
		cp.Errors = make(map[services.ErrorKind]int, len(s.Errors))
		for k, v := range s.Errors {
			cp.Errors[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Reset clears all counters
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = make(map[string]*ModelStats)
}
