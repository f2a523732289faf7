package settlement

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voltsync/voltsync/internal/pagination"
)

// Handler exposes settlement queries over HTTP.
type Handler struct {
	store  Store
	poller *Poller
}

// NewHandler creates a settlement query handler. poller may be nil.
func NewHandler(store Store, poller *Poller) *Handler {
	return &Handler{store: store, poller: poller}
}

// RegisterRoutes sets up the settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settlements", h.List)
	r.GET("/settlements/stats", h.Stats)
	r.GET("/settlements/:txn", h.Get)
}

// List handles GET /settlements?status=SETTLED&limit=50&cursor=...
func (h *Handler) List(c *gin.Context) {
	status := Status(c.Query("status"))
	if status != "" {
		valid := false
		for _, st := range AllStatuses {
			if status == st {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "INVALID_STATUS", "message": "unknown settlement status"},
			})
			return
		}
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	limit = pagination.ClampLimit(limit)

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_CURSOR", "message": "cursor is not valid"},
		})
		return
	}

	settlements, err := h.store.List(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settlements"})
		return
	}

	settlements = pagination.After(settlements, cursor, settlementKey)
	page, next, hasMore := pagination.Page(settlements, limit, settlementKey)

	out := gin.H{
		"settlements": page,
		"count":       len(page),
		"hasMore":     hasMore,
	}
	if next != "" {
		out["nextCursor"] = next
	}
	c.JSON(http.StatusOK, out)
}

func settlementKey(s *Settlement) (createdAt time.Time, id string) {
	return s.CreatedAt, s.TransactionID
}

// Get handles GET /settlements/:txn.
func (h *Handler) Get(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context(), c.Param("txn"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": "SETTLEMENT_NOT_FOUND", "message": "no settlement for transaction"},
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settlement"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// Stats handles GET /settlements/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	out := gin.H{"byStatus": stats}
	if h.poller != nil {
		poller := gin.H{"running": h.poller.Running()}
		if last := h.poller.LastCycle(); !last.IsZero() {
			poller["lastCycle"] = last
		}
		out["poller"] = poller
	}
	c.JSON(http.StatusOK, out)
}
