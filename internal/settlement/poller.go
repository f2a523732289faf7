package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voltsync/voltsync/internal/circuitbreaker"
	"github.com/voltsync/voltsync/internal/retry"
	"github.com/voltsync/voltsync/internal/traces"
)

// Circuit breaker upstream names.
const (
	upstreamLedger   = "ledger"
	upstreamNotifier = "notifier"
)

// EventSink receives settlements whose status changed during a poll cycle.
// Implementations must not block; the poller calls them inline.
type EventSink interface {
	SettlementUpdated(ctx context.Context, s *Settlement)
}

// Poller is the reconciliation loop keeping settlements in step with the
// ledger. One cycle lists every unsettled record, fetches ledger state for
// each, folds it in, and delivers settle notifications for records that
// became SETTLED. Only one cycle runs at a time; ticks that land while a
// cycle is still in flight are skipped.
type Poller struct {
	store    Store
	ledger   LedgerClient
	notifier Notifier
	sinks    []EventSink
	interval time.Duration
	logger   *slog.Logger
	breaker  *circuitbreaker.Breaker

	stop      chan struct{}
	running   atomic.Bool
	inflight  atomic.Bool
	lastCycle atomic.Int64 // unix nanos of last completed cycle
}

// NewPoller creates a reconciliation poller. notifier and sinks may be nil.
func NewPoller(store Store, ledger LedgerClient, notifier Notifier, interval time.Duration, logger *slog.Logger, sinks ...EventSink) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		sinks:    sinks,
		interval: interval,
		logger:   logger,
		breaker:  circuitbreaker.New(5, 2*interval),
		stop:     make(chan struct{}),
	}
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// LastCycle returns when the last cycle completed, zero if none has.
func (p *Poller) LastCycle() time.Time {
	n := p.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Start begins the periodic reconciliation loop. Call in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.safeRun(ctx)
		}
	}
}

// Stop signals the poller to stop.
func (p *Poller) Stop() {
	select {
	case p.stop <- struct{}{}:
	default:
	}
}

func (p *Poller) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in settlement poller", "panic", fmt.Sprint(r))
			pollCycles.WithLabelValues("failed").Inc()
		}
	}()

	p.RunCycle(ctx)
}

// RunCycle executes one reconciliation pass. If a cycle is already in
// flight the call is a no-op. Per-transaction failures are counted and
// logged but never abort the pass.
func (p *Poller) RunCycle(ctx context.Context) {
	if !p.inflight.CompareAndSwap(false, true) {
		pollCycles.WithLabelValues("skipped").Inc()
		p.logger.Debug("settlement poll tick skipped, cycle still running")
		return
	}
	defer p.inflight.Store(false)

	ctx, span := traces.StartSpan(ctx, "settlement.poll_cycle")
	defer span.End()

	start := time.Now()
	defer func() {
		pollCycleDuration.Observe(time.Since(start).Seconds())
		p.lastCycle.Store(time.Now().UnixNano())
	}()

	candidates, err := p.store.ListUnsettled(ctx)
	if err != nil {
		p.logger.Error("settlement poll failed to list candidates", "error", err)
		pollCycles.WithLabelValues("failed").Inc()
		return
	}

	synced := 0
	for _, s := range candidates {
		if ctx.Err() != nil {
			return
		}
		if !p.breaker.Allow(upstreamLedger) {
			p.logger.Warn("ledger circuit open, deferring remaining settlements",
				"remaining", len(candidates)-synced)
			break
		}
		if err := p.syncOne(ctx, s); err != nil {
			pollItemErrors.Inc()
			p.logger.Warn("settlement sync failed",
				"transactionId", s.TransactionID, "error", err)
			continue
		}
		synced++
	}

	p.notifyPass(ctx)
	p.publishStats(ctx)

	pollCycles.WithLabelValues("completed").Inc()
	if len(candidates) > 0 {
		p.logger.Info("settlement poll cycle completed",
			"candidates", len(candidates), "synced", synced,
			"duration", time.Since(start))
	}
}

func (p *Poller) syncOne(ctx context.Context, s *Settlement) error {
	var rec *LedgerRecord
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		r, err := p.ledger.FetchStatus(ctx, s.TransactionID)
		if errors.Is(err, ErrLedgerNotFound) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, ErrLedgerNotFound) {
		// Not an error: the ledger simply has not seen this trade yet.
		p.breaker.RecordSuccess(upstreamLedger)
		p.logger.Debug("ledger has no record yet", "transactionId", s.TransactionID)
		return nil
	}
	if err != nil {
		p.breaker.RecordFailure(upstreamLedger)
		return err
	}
	p.breaker.RecordSuccess(upstreamLedger)

	updated, err := p.store.UpdateFromLedger(ctx, s.TransactionID, rec)
	if err != nil {
		return err
	}

	if updated.Status != s.Status {
		p.logger.Info("settlement status changed",
			"transactionId", s.TransactionID,
			"from", s.Status, "to", updated.Status)
		sinkCtx, span := traces.StartSpan(ctx, "settlement.transition",
			traces.TransactionID(s.TransactionID),
			traces.SettlementStatus(string(updated.Status)))
		for _, sink := range p.sinks {
			sink.SettlementUpdated(sinkCtx, updated)
		}
		span.End()
	}
	return nil
}

// notifyPass delivers the settle notification for every SETTLED record that
// has not been notified yet, then marks it. A failed delivery is retried on
// the next cycle; MarkNotified is only reached after a successful send.
func (p *Poller) notifyPass(ctx context.Context) {
	if p.notifier == nil {
		return
	}

	unnotified, err := p.store.ListUnnotified(ctx)
	if err != nil {
		p.logger.Error("settlement poll failed to list unnotified", "error", err)
		return
	}

	for _, s := range unnotified {
		if ctx.Err() != nil {
			return
		}
		if !p.breaker.Allow(upstreamNotifier) {
			p.logger.Warn("notifier circuit open, deferring settle notifications")
			return
		}
		if err := p.notifier.NotifySettled(ctx, s.TransactionID, s); err != nil {
			p.breaker.RecordFailure(upstreamNotifier)
			settleNotifications.WithLabelValues("failed").Inc()
			p.logger.Warn("settle notification failed",
				"transactionId", s.TransactionID, "error", err)
			continue
		}
		p.breaker.RecordSuccess(upstreamNotifier)
		if err := p.store.MarkNotified(ctx, s.TransactionID); err != nil {
			p.logger.Error("failed to mark settlement notified",
				"transactionId", s.TransactionID, "error", err)
			continue
		}
		settleNotifications.WithLabelValues("sent").Inc()
		p.logger.Info("settle notification delivered",
			"transactionId", s.TransactionID, "cycleId", s.SettlementCycleID)
	}
}

func (p *Poller) publishStats(ctx context.Context) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return
	}
	for status, count := range stats {
		settlementsByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}
