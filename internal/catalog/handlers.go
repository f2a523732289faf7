package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/voltsync/voltsync/internal/protocol"
	"github.com/voltsync/voltsync/internal/syncapi"
)

var catalogsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voltsync",
	Subsystem: "catalog",
	Name:      "published_total",
	Help:      "Catalog publish requests by outcome.",
}, []string{"outcome"}) // "stored", "rejected", "forward_failed"

func init() {
	prometheus.MustRegister(catalogsPublished)
}

// Broadcaster receives stored catalogs for live feeds. May be nil.
type Broadcaster interface {
	BroadcastCatalogPublished(catalog map[string]any)
}

// Handler exposes catalog publish and query routes.
type Handler struct {
	store     Store
	poster    syncapi.Poster
	bppURL    string
	logger    *slog.Logger
	broadcast Broadcaster
}

// NewHandler creates a catalog handler. bppURL is the seller platform
// adapter that publishes are forwarded to. broadcast may be nil.
func NewHandler(store Store, poster syncapi.Poster, bppURL string, broadcast Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, poster: poster, bppURL: bppURL, broadcast: broadcast, logger: logger}
}

// RegisterRoutes sets up the catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/publish", h.Publish)
	r.GET("/inventory", h.Inventory)
	r.GET("/items", h.Items)
	r.GET("/offers", h.Offers)
}

// Publish handles POST /publish: store the catalog, seed inventory from item
// quantities, then forward the untouched envelope to the seller platform.
func (h *Handler) Publish(c *gin.Context) {
	var env protocol.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		catalogsPublished.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	cat := firstCatalog(env)
	if cat == nil {
		catalogsPublished.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "no catalog in request"})
		return
	}

	catalogID, _ := cat["beckn:id"].(string)
	if catalogID == "" {
		catalogsPublished.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "catalog is missing beckn:id"})
		return
	}

	ctx := c.Request.Context()
	bppID, _ := env.Context()["bpp_id"].(string)
	if err := h.store.SaveCatalog(ctx, &Catalog{ID: catalogID, BppID: bppID, Data: cat}); err != nil {
		h.logger.Error("failed to store catalog", "catalogId", catalogID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store catalog"})
		return
	}

	items, _ := cat["beckn:items"].([]any)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		itemID, _ := item["beckn:id"].(string)
		if itemID == "" {
			continue
		}
		if err := h.store.SaveItem(ctx, &Item{ID: itemID, CatalogID: catalogID, Data: item}); err != nil {
			h.logger.Error("failed to store item", "itemId", itemID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store catalog items"})
			return
		}
		if qty, ok := itemQuantity(item); ok {
			if err := h.store.SetInventory(ctx, itemID, catalogID, qty); err != nil {
				h.logger.Error("failed to seed inventory", "itemId", itemID, "error", err)
			}
		}
	}

	offers, _ := cat["beckn:offers"].([]any)
	for _, raw := range offers {
		offer, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		offerID, _ := offer["beckn:id"].(string)
		if offerID == "" {
			continue
		}
		if err := h.store.SaveOffer(ctx, &Offer{ID: offerID, CatalogID: catalogID, Data: offer}); err != nil {
			h.logger.Error("failed to store offer", "offerId", offerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store catalog offers"})
			return
		}
	}

	h.logger.Info("catalog stored",
		"catalogId", catalogID, "items", len(items), "offers", len(offers))

	if h.broadcast != nil {
		h.broadcast.BroadcastCatalogPublished(map[string]any{
			"catalogId": catalogID,
			"bppId":     bppID,
			"items":     len(items),
			"offers":    len(offers),
		})
	}

	resp, err := h.poster.Post(ctx, h.bppURL+"/bpp/caller/publish", map[string]any(env))
	if err != nil {
		catalogsPublished.WithLabelValues("forward_failed").Inc()
		h.logger.Error("catalog forward failed", "catalogId", catalogID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to forward catalog to seller platform"})
		return
	}

	catalogsPublished.WithLabelValues("stored").Inc()

	var downstream any
	if err := json.Unmarshal(resp.Body, &downstream); err != nil {
		downstream = string(resp.Body)
	}
	status := resp.StatusCode
	if status < 200 || status >= 600 {
		status = http.StatusOK
	}
	c.JSON(status, downstream)
}

// Inventory handles GET /inventory.
func (h *Handler) Inventory(c *gin.Context) {
	entries, err := h.store.Inventory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list inventory"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

// Items handles GET /items.
func (h *Handler) Items(c *gin.Context) {
	items, err := h.store.Items(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Offers handles GET /offers.
func (h *Handler) Offers(c *gin.Context) {
	offers, err := h.store.Offers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list offers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func firstCatalog(env protocol.Envelope) map[string]any {
	catalogs, _ := env.Message()["catalogs"].([]any)
	if len(catalogs) == 0 {
		return nil
	}
	cat, _ := catalogs[0].(map[string]any)
	return cat
}

func itemQuantity(item map[string]any) (float64, bool) {
	qty, _ := item["beckn:quantity"].(map[string]any)
	if qty == nil {
		return 0, false
	}
	switch v := qty["unitQuantity"].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
