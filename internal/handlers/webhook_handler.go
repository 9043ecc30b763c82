package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/interfaces"
	"github.com/leadconf/registration-service/internal/korapay"
	"github.com/leadconf/registration-service/internal/metrics"
	"github.com/leadconf/registration-service/internal/service"
)

const webhookProcessTimeout = 60 * time.Second

// WebhookHandler receives Korapay event deliveries. Korapay enforces a
// response-time SLA and retries on non-200, so the request is acknowledged
// as soon as the signature checks out and the event is reconciled in a
// detached goroutine.
type WebhookHandler struct {
	engine  *service.Engine
	gateway interfaces.PaymentGateway
	logger  *zap.Logger
}

func NewWebhookHandler(engine *service.Engine, gateway interfaces.PaymentGateway, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{engine: engine, gateway: gateway, logger: logger}
}

// HandleWebhook handles POST /api/payment/webhook.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	signature := c.GetHeader(korapay.SignatureHeader)
	if signature == "" {
		h.logger.Warn("Webhook rejected: missing signature header")
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"message": "Missing signature header."})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Could not read request body."})
		return
	}

	var payload korapay.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("Webhook rejected: malformed payload", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"message": "Malformed payload."})
		return
	}

	// The provider signs the data object only, not the full envelope.
	if !h.gateway.ValidateSignature(payload.Data, signature) {
		h.logger.Warn("Webhook rejected: invalid signature", zap.String("event", payload.Event))
		metrics.WebhookEvents.WithLabelValues(payload.Event, "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid webhook signature."})
		return
	}

	// Acknowledge before processing. The 200 only means "delivery
	// received"; processing failures are logged and picked up out of band,
	// never reported back to the provider.
	c.JSON(http.StatusOK, gin.H{"message": "Webhook received."})

	go h.process(&payload)
}

func (h *WebhookHandler) process(payload *korapay.WebhookPayload) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Webhook processing panicked",
				zap.String("event", payload.Event),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
	defer cancel()

	if err := h.engine.ProcessWebhookEvent(ctx, payload); err != nil {
		h.logger.Error("Webhook processing failed",
			zap.String("event", payload.Event),
			zap.Error(err),
		)
	}
}
