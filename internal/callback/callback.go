// Package callback is the inbound webhook surface for protocol callbacks.
//
// The downstream network delivers on_<action> requests here at some point
// after an ACKed action. Each callback is matched to its pending transaction
// and handed to the waiting bridge caller. Per protocol, the webhook always
// acknowledges receipt; whether the pending entry still existed is the
// gateway's problem, not the sender's.
package callback

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/voltsync/voltsync/internal/pending"
	"github.com/voltsync/voltsync/internal/protocol"
)

var (
	callbacksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "callback",
		Name:      "received_total",
		Help:      "Total inbound protocol callbacks by action and match result.",
	}, []string{"action", "result"}) // "matched", "unmatched", "malformed"
)

func init() {
	prometheus.MustRegister(callbacksReceived)
}

// Actions with a callback route. The long tail (track, rating, ...) is
// accepted and acknowledged even though only the first four ever have a
// waiting caller.
var callbackActions = []string{
	protocol.ActionSelect,
	protocol.ActionInit,
	protocol.ActionConfirm,
	protocol.ActionStatus,
	"update",
	"cancel",
	"track",
	"rating",
	"support",
}

// Handler resolves pending transactions from inbound callbacks.
type Handler struct {
	registry *pending.Registry
	logger   *slog.Logger
}

// NewHandler creates a callback handler.
func NewHandler(registry *pending.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes sets up one on_<action> route per callback verb.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	for _, action := range callbackActions {
		action := action
		r.POST("/webhook/"+protocol.CallbackAction(action), h.handle(action))
	}
}

func (h *Handler) handle(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var env protocol.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			callbacksReceived.WithLabelValues(action, "malformed").Inc()
			c.JSON(http.StatusBadRequest, protocol.AckEnvelope("NACK"))
			return
		}

		txnID := env.TransactionID()
		if h.registry.Resolve(txnID, map[string]any(env)) {
			callbacksReceived.WithLabelValues(action, "matched").Inc()
			h.logger.Info("callback resolved pending transaction",
				"action", action, "transactionId", txnID)
		} else {
			// Late, duplicate, or unsolicited. The protocol still wants an
			// ACK; the payload is simply dropped.
			callbacksReceived.WithLabelValues(action, "unmatched").Inc()
			h.logger.Warn("callback had no pending transaction",
				"action", action, "transactionId", txnID)
		}

		c.JSON(http.StatusOK, protocol.AckEnvelope("ACK"))
	}
}
