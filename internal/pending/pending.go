// Package pending correlates outbound protocol actions with their eventual
// callbacks.
//
// The bridge registers an entry keyed by transaction id before sending the
// outbound request; the callback surface resolves it when the async result
// arrives. Each entry is completed exactly once, by whichever of resolve,
// reject, cancel, or timeout happens first. Everything after the first
// terminal event is a no-op, which is how late and duplicate callbacks are
// absorbed.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrInvalidTransactionID = errors.New("pending: transaction id must be non-empty")
	ErrAlreadyPending       = errors.New("pending: transaction already has a pending entry")
	ErrCancelled            = errors.New("pending: transaction cancelled before callback")
)

// CallbackTimeoutError is returned from Handle.Await when no callback
// arrived within the configured window.
type CallbackTimeoutError struct {
	TransactionID string
	Action        string
	Timeout       time.Duration
}

func (e *CallbackTimeoutError) Error() string {
	return fmt.Sprintf("pending: timeout after %s waiting for on_%s callback (txn %s)",
		e.Timeout, e.Action, e.TransactionID)
}

// Resolution is the terminal outcome of an entry.
type Resolution struct {
	Payload map[string]any
	Err     error
}

type entry struct {
	transactionID string
	action        string
	createdAt     time.Time
	timer         *time.Timer // owned exclusively by this entry
	done          chan Resolution
}

// Registry tracks in-flight transactions awaiting callbacks.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates a registry. Entries that are neither resolved nor
// cancelled complete with a CallbackTimeoutError after timeout.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		timeout: timeout,
		logger:  logger,
	}
}

// Create registers a new pending entry and returns a handle the caller can
// await. A second create for an id that is still pending fails with
// ErrAlreadyPending; the first caller keeps its entry.
func (r *Registry) Create(transactionID, action string) (*Handle, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, ErrInvalidTransactionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[transactionID]; exists {
		return nil, ErrAlreadyPending
	}

	e := &entry{
		transactionID: transactionID,
		action:        action,
		createdAt:     time.Now(),
		done:          make(chan Resolution, 1),
	}
	e.timer = time.AfterFunc(r.timeout, func() {
		r.expire(transactionID, e)
	})
	r.entries[transactionID] = e

	pendingCreated.Inc()
	pendingGauge.Set(float64(len(r.entries)))

	return &Handle{transactionID: transactionID, action: action, done: e.done}, nil
}

// Resolve completes a pending entry with the callback payload.
// Returns false when the entry does not exist or is already terminal.
func (r *Registry) Resolve(transactionID string, payload map[string]any) bool {
	return r.complete(transactionID, Resolution{Payload: payload}, "resolved")
}

// Reject completes a pending entry with an error.
func (r *Registry) Reject(transactionID string, err error) bool {
	return r.complete(transactionID, Resolution{Err: err}, "rejected")
}

// Cancel removes a pending entry without delivering a callback, used when
// the outbound leg fails before any callback can occur. Cancelling stops the
// entry's timer so it cannot fire against a caller that already got an error.
func (r *Registry) Cancel(transactionID string) bool {
	return r.complete(transactionID, Resolution{Err: ErrCancelled}, "cancelled")
}

// Has reports whether an entry is still pending for the id.
func (r *Registry) Has(transactionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[transactionID]
	return ok
}

// Count returns the number of currently pending entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// expire is the timer path. The entry pointer is compared against the map so
// a timer that lost the race with resolve/cancel (or with a re-created id)
// does nothing.
func (r *Registry) expire(transactionID string, e *entry) {
	r.mu.Lock()
	current, ok := r.entries[transactionID]
	if !ok || current != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, transactionID)
	pendingGauge.Set(float64(len(r.entries)))
	r.mu.Unlock()

	e.done <- Resolution{Err: &CallbackTimeoutError{
		TransactionID: transactionID,
		Action:        e.action,
		Timeout:       r.timeout,
	}}
	pendingCompleted.WithLabelValues("timeout").Inc()
	r.logger.Warn("pending transaction timed out",
		"transactionId", transactionID,
		"action", e.action,
		"waited", time.Since(e.createdAt),
	)
}

func (r *Registry) complete(transactionID string, res Resolution, reason string) bool {
	r.mu.Lock()
	e, ok := r.entries[transactionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, transactionID)
	e.timer.Stop()
	pendingGauge.Set(float64(len(r.entries)))
	r.mu.Unlock()

	// Buffered channel: the send never blocks, and a handle awaited later
	// still observes the resolution.
	e.done <- res
	pendingCompleted.WithLabelValues(reason).Inc()
	return true
}

// Handle is the caller's side of a pending entry.
type Handle struct {
	transactionID string
	action        string
	done          <-chan Resolution
}

// TransactionID returns the id this handle is awaiting.
func (h *Handle) TransactionID() string { return h.transactionID }

// Await blocks until the entry reaches a terminal state or ctx is done.
// On resolve it returns the callback payload; on timeout the error is a
// *CallbackTimeoutError.
func (h *Handle) Await(ctx context.Context) (map[string]any, error) {
	select {
	case res := <-h.done:
		return res.Payload, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
