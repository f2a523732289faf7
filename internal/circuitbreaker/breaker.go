// Package circuitbreaker protects calls to the external trade ledger and
// downstream notification targets with closed → open → half-open gating.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voltsync",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by upstream, from-state, and to-state.",
}, []string{"upstream", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(breakerTransitions)
}

type upstream struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks failure counts per named upstream and trips open when
// consecutive failures reach the threshold. After openDuration the circuit
// moves to half-open and lets one probe request through.
type Breaker struct {
	mu           sync.Mutex
	upstreams    map[string]*upstream
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		upstreams:    make(map[string]*upstream),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow reports whether a request to the named upstream should proceed.
// An open circuit past its openDuration transitions to half-open and
// admits a single probe.
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.upstreams[name]
	if !ok {
		return true // No entry = closed
	}

	switch u.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(u.lastFailure) >= b.openDuration {
			b.transition(u, name, StateHalfOpen)
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Probe already in flight
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.upstreams[name]
	if !ok {
		return
	}

	if u.state == StateHalfOpen {
		b.transition(u, name, StateClosed)
	}
	u.failures = 0
}

// RecordFailure counts a failed request and trips the circuit open once
// consecutive failures reach the threshold.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.upstreams[name]
	if !ok {
		u = &upstream{state: StateClosed}
		b.upstreams[name] = u
	}

	u.failures++
	u.lastFailure = time.Now()

	if u.state == StateHalfOpen {
		// Probe failed
		b.transition(u, name, StateOpen)
		return
	}

	if u.state == StateClosed && u.failures >= b.threshold {
		b.transition(u, name, StateOpen)
	}
}

// State returns the current state for an upstream. Unknown upstreams are closed.
func (b *Breaker) State(name string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.upstreams[name]
	if !ok {
		return StateClosed
	}
	return u.state
}

// transition changes state and records the metric. Caller must hold b.mu.
func (b *Breaker) transition(u *upstream, name string, to State) {
	from := u.state
	if from == to {
		return
	}
	u.state = to
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}
