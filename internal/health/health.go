// Package health runs named checks against the gateway's upstreams.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one subsystem check.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes one subsystem. A nil return means healthy.
type Checker func(ctx context.Context) error

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	names    []string
	checkers map[string]Checker
}

// NewRegistry creates an empty health check registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a named checker. Registering the same name twice replaces
// the earlier checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checkers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.checkers[name] = check
}

// CheckAll runs every checker in registration order and reports the
// aggregate health plus per-subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checkers := make(map[string]Checker, len(r.checkers))
	for k, v := range r.checkers {
		checkers[k] = v
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(names))

	for _, name := range names {
		start := time.Now()
		err := checkers[name](ctx)
		st := Status{
			Name:      name,
			Healthy:   err == nil,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			st.Detail = err.Error()
			healthy = false
		}
		statuses = append(statuses, st)
	}

	return healthy, statuses
}
