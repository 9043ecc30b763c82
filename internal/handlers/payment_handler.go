package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/korapay"
	"github.com/leadconf/registration-service/internal/service"
)

type PaymentHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewPaymentHandler(engine *service.Engine, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{engine: engine, logger: logger}
}

// InitiatePayment handles POST /api/payment/initiate, the checkout entry
// point that is independent of a registration record.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body.",
		})
		return
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "A valid positive amount is required.",
		})
		return
	}
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "customerName and customerEmail are required.",
		})
		return
	}

	result, err := h.engine.InitiatePayment(c.Request.Context(), req)
	if err != nil {
		h.writeProviderError(c, err, "Could not start a checkout session.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment session initiated.",
		"data":    result,
	})
}

// VerifyPayment handles GET /api/payment/verify/:reference. The frontend
// polls this after the redirect back from checkout; the provider's live
// answer is folded into the store before being returned.
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	ref := c.Param("reference")
	if strings.TrimSpace(ref) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Payment reference is required.",
		})
		return
	}

	result, err := h.engine.VerifyPayment(c.Request.Context(), ref)
	if err != nil {
		h.writeProviderError(c, err, "Could not verify the payment.")
		return
	}

	if result.Paid {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Payment verified successfully.",
			"data":    result,
		})
		return
	}

	c.JSON(http.StatusPaymentRequired, gin.H{
		"success": false,
		"message": "Payment not completed. Current status: " + result.Status + ".",
		"data":    result,
	})
}

func (h *PaymentHandler) writeProviderError(c *gin.Context, err error, message string) {
	var providerErr *korapay.ProviderError
	if errors.As(err, &providerErr) {
		h.logger.Error("Provider request failed",
			zap.Int("provider_status", providerErr.StatusCode),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": message + " Please try again.",
		})
		return
	}

	h.logger.Error("Payment operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "An unexpected error occurred. Please try again later.",
	})
}
