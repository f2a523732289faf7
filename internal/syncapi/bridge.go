// Package syncapi bridges the asynchronous ack-then-callback protocol into
// single blocking calls.
//
// Flow per verb:
//  1. Register a pending entry for the transaction id (before sending, so a
//     fast callback cannot arrive ahead of the registry).
//  2. POST the action to the downstream adapter.
//  3. Classify the immediate reply as ACK or NACK.
//  4. On ACK, await the callback resolution; on anything else, cancel the
//     pending entry and report a typed error.
package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voltsync/voltsync/internal/pending"
	"github.com/voltsync/voltsync/internal/protocol"
	"github.com/voltsync/voltsync/internal/traces"
)

// SettlementCreator records a settlement when an order is confirmed.
type SettlementCreator interface {
	Create(ctx context.Context, transactionID, orderItemID string, contractedQuantity float64) error
}

// Bridge turns protocol verbs into blocking calls.
type Bridge struct {
	registry    *pending.Registry
	poster      Poster
	baseURL     string // downstream adapter base, e.g. http://onix-bap:8081
	settlements SettlementCreator // optional
	logger      *slog.Logger
}

// NewBridge creates a bridge. settlements may be nil when settlement
// tracking is disabled.
func NewBridge(registry *pending.Registry, poster Poster, baseURL string, settlements SettlementCreator, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		registry:    registry,
		poster:      poster,
		baseURL:     strings.TrimRight(baseURL, "/"),
		settlements: settlements,
		logger:      logger,
	}
}

// Result is a successful bridged call.
type Result struct {
	TransactionID string
	Payload       map[string]any
}

// Select bridges the select verb.
func (b *Bridge) Select(ctx context.Context, env protocol.Envelope) (*Result, error) {
	return b.execute(ctx, protocol.ActionSelect, env)
}

// Status bridges the status verb.
func (b *Bridge) Status(ctx context.Context, env protocol.Envelope) (*Result, error) {
	return b.execute(ctx, protocol.ActionStatus, env)
}

// Init bridges the init verb. Inter-utility counterparty identifiers are
// required before anything is registered or sent.
func (b *Bridge) Init(ctx context.Context, env protocol.Envelope) (*Result, error) {
	if verr := validateInterUtility(env); verr != nil {
		return nil, verr
	}
	env.StampOrderType(protocol.OrderTypeInterUtility)
	return b.execute(ctx, protocol.ActionInit, env)
}

// Confirm bridges the confirm verb and, on success, records the settlement
// for the confirmed order item.
func (b *Bridge) Confirm(ctx context.Context, env protocol.Envelope) (*Result, error) {
	if verr := validateInterUtility(env); verr != nil {
		return nil, verr
	}
	env.StampOrderType(protocol.OrderTypeInterUtility)

	res, err := b.execute(ctx, protocol.ActionConfirm, env)
	if err != nil {
		return nil, err
	}

	if b.settlements != nil {
		if itemID, qty, ok := confirmedOrderItem(env, res.Payload); ok {
			if serr := b.settlements.Create(ctx, res.TransactionID, itemID, qty); serr != nil {
				// The trade is confirmed either way; reconciliation picks the
				// record up on the next confirm retry or manual backfill.
				b.logger.Error("failed to create settlement record",
					"transactionId", res.TransactionID, "orderItemId", itemID, "error", serr)
			}
		} else {
			b.logger.Warn("confirmed order carries no order item, skipping settlement record",
				"transactionId", res.TransactionID)
		}
	}

	return res, nil
}

// execute runs the create -> send -> classify -> await algorithm for one verb.
func (b *Bridge) execute(ctx context.Context, action string, env protocol.Envelope) (*Result, error) {
	txnID := env.TransactionID()
	if txnID == "" {
		txnID = uuid.NewString()
	}
	env.SetTransactionID(txnID)

	ctx, span := traces.StartSpan(ctx, "syncapi."+action,
		traces.TransactionID(txnID), traces.Action(action))
	defer span.End()

	started := time.Now()

	// Register before sending: a fast callback must find the entry.
	handle, err := b.registry.Create(txnID, action)
	if err != nil {
		if errors.Is(err, pending.ErrInvalidTransactionID) {
			bridgeRequests.WithLabelValues(action, "invalid_id").Inc()
		} else {
			bridgeRequests.WithLabelValues(action, "duplicate").Inc()
		}
		return nil, err
	}

	url := fmt.Sprintf("%s/bap/caller/%s", b.baseURL, action)
	b.logger.Info("forwarding action", "action", action, "transactionId", txnID, "url", url)

	resp, err := b.poster.Post(ctx, url, env)
	if err != nil {
		b.registry.Cancel(txnID)
		bridgeRequests.WithLabelValues(action, "transport_error").Inc()
		return nil, &TransportError{Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.registry.Cancel(txnID)
		bridgeRequests.WithLabelValues(action, "transport_error").Inc()
		return nil, downstreamError(resp)
	}

	ack := protocol.ClassifyAck(resp.Body)
	b.logger.Debug("ack classified", "action", action, "transactionId", txnID,
		"ack", ack.Ack, "reason", ack.Reason)
	if !ack.Ack {
		// Never await the handle on a NACK.
		b.registry.Cancel(txnID)
		bridgeRequests.WithLabelValues(action, "nack").Inc()
		return nil, &NackError{Action: action, Reason: ack.Reason, Body: truncate(string(resp.Body), 500)}
	}

	payload, err := handle.Await(ctx)
	if err != nil {
		var te *pending.CallbackTimeoutError
		switch {
		case errors.As(err, &te):
			bridgeRequests.WithLabelValues(action, "timeout").Inc()
		default:
			// Caller went away while waiting; drop the entry so its timer
			// cannot fire later.
			b.registry.Cancel(txnID)
			bridgeRequests.WithLabelValues(action, "cancelled").Inc()
		}
		return nil, err
	}

	if detail, ok := payload["error"]; ok && detail != nil {
		bridgeRequests.WithLabelValues(action, "business_error").Inc()
		return nil, &BusinessError{TransactionID: txnID, Detail: detail}
	}

	bridgeRequests.WithLabelValues(action, "success").Inc()
	bridgeLatency.WithLabelValues(action).Observe(time.Since(started).Seconds())
	return &Result{TransactionID: txnID, Payload: payload}, nil
}

// validateInterUtility checks the counterparty identifiers required for
// inter-discom orders. Runs before any registry or network activity.
func validateInterUtility(env protocol.Envelope) *ValidationError {
	attrs := env.OrderAttributes()

	buyer, _ := attrs["utilityIdBuyer"].(string)
	if strings.TrimSpace(buyer) == "" {
		return &ValidationError{
			Code:    "MISSING_REQUIRED_FIELD",
			Message: "utilityIdBuyer is required in beckn:orderAttributes for inter-discom trading",
		}
	}

	seller, _ := attrs["utilityIdSeller"].(string)
	if strings.TrimSpace(seller) == "" {
		return &ValidationError{
			Code:    "MISSING_REQUIRED_FIELD",
			Message: "utilityIdSeller is required in beckn:orderAttributes for inter-discom trading",
		}
	}

	return nil
}

// confirmedOrderItem pulls the order item for settlement tracking, preferring
// the callback payload (the seller's confirmed view) over the request.
func confirmedOrderItem(req protocol.Envelope, payload map[string]any) (string, float64, bool) {
	if id, qty, ok := protocol.Envelope(payload).FirstOrderItem(); ok {
		return id, qty, true
	}
	return req.FirstOrderItem()
}

// downstreamError builds a TransportError from a non-2xx downstream reply,
// extracting the adapter's diagnostic message when the body parses.
func downstreamError(resp *Response) *TransportError {
	te := &TransportError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("downstream returned %s", http.StatusText(resp.StatusCode)),
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		te.Details = body
		if msg := protocol.ErrorMessage(body); msg != "" {
			te.Message = msg
		}
	}
	return te
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
