package syncapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voltsync/voltsync/internal/pending"
	"github.com/voltsync/voltsync/internal/protocol"
)

// Handler exposes the bridge verbs over HTTP.
type Handler struct {
	bridge   *Bridge
	registry *pending.Registry
	bppURL   string
}

// NewHandler creates a sync API handler.
func NewHandler(bridge *Bridge, registry *pending.Registry, bppURL string) *Handler {
	return &Handler{bridge: bridge, registry: registry, bppURL: bppURL}
}

// RegisterRoutes sets up the sync API routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/select", h.verb(h.bridge.Select))
	r.POST("/init", h.verb(h.bridge.Init))
	r.POST("/confirm", h.verb(h.bridge.Confirm))
	r.POST("/status", h.verb(h.bridge.Status))
	r.GET("/sync/health", h.Health)
}

// verb wraps one bridge call with the shared request/response plumbing.
func (h *Handler) verb(call func(context.Context, protocol.Envelope) (*Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var env protocol.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   gin.H{"code": "INVALID_BODY", "message": "request body must be a JSON object"},
			})
			return
		}

		res, err := call(c.Request.Context(), env)
		if err != nil {
			h.writeError(c, env.TransactionID(), err)
			return
		}

		// Success merges the callback payload into the response alongside
		// the correlation id.
		out := gin.H{
			"success":        true,
			"transaction_id": res.TransactionID,
		}
		for k, v := range res.Payload {
			out[k] = v
		}
		c.JSON(http.StatusOK, out)
	}
}

// writeError maps the bridge error taxonomy onto the external boundary.
func (h *Handler) writeError(c *gin.Context, txnID string, err error) {
	var (
		verr *ValidationError
		berr *BusinessError
		terr *TransportError
		nerr *NackError
		toer *pending.CallbackTimeoutError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": verr.Code, "message": verr.Message},
		})

	case errors.As(err, &berr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success":        false,
			"transaction_id": berr.TransactionID,
			"error":          berr.Detail,
		})

	case errors.As(err, &toer):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"success":        false,
			"transaction_id": toer.TransactionID,
			"error":          toer.Error(),
		})

	case errors.As(err, &terr):
		status := http.StatusInternalServerError
		if terr.StatusCode >= 400 {
			status = terr.StatusCode
		}
		body := gin.H{"success": false, "error": terr.Message}
		if terr.Details != nil {
			body["details"] = terr.Details
		}
		c.JSON(status, body)

	case errors.As(err, &nerr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   nerr.Error(),
		})

	case errors.Is(err, pending.ErrAlreadyPending):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "TRANSACTION_IN_FLIGHT",
				"message": "a request for this transaction id is already awaiting its callback",
			},
		})

	case errors.Is(err, pending.ErrInvalidTransactionID):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_TRANSACTION_ID", "message": "transaction id must be non-empty"},
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}

	if txnID != "" {
		c.Set("transactionId", txnID)
	}
}

// Health handles GET /sync/health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":              "OK",
		"pendingTransactions": h.registry.Count(),
		"bppUrl":              h.bppURL,
	})
}
