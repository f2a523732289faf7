package notification

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var smsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voltsync",
	Subsystem: "notification",
	Name:      "sms_total",
	Help:      "SMS send attempts by outcome.",
}, []string{"outcome"}) // "sent", "rejected", "failed"

func init() {
	prometheus.MustRegister(smsSent)
}

// Handler exposes the notification routes.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a notification handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up the notification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/notifications/sms", h.SendSMS)
}

type sendSMSRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendSMS handles POST /notifications/sms.
func (h *Handler) SendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		smsSent.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	messageID, err := h.service.SendSMS(c.Request.Context(), req.Phone, req.Message)
	switch {
	case errors.Is(err, ErrInvalidPhone):
		smsSent.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_PHONE", "message": "phone number must be E.164 formatted"},
		})
	case errors.Is(err, ErrEmptyMessage):
		smsSent.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "EMPTY_MESSAGE", "message": "message cannot be empty"},
		})
	case err != nil:
		smsSent.WithLabelValues("failed").Inc()
		h.logger.Error("sms send failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send SMS"})
	default:
		smsSent.WithLabelValues("sent").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "messageId": messageID})
	}
}
