package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/korapay"
	"github.com/leadconf/registration-service/internal/models"
	"github.com/leadconf/registration-service/internal/service"
)

type RegistrationHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewRegistrationHandler(engine *service.Engine, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{engine: engine, logger: logger}
}

// Register handles POST /api/registration: validate the form, create or
// reset the PENDING pair, open checkout, and return the checkout URL.
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req models.CreateRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body.",
		})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"message": "Validation failed. Please check the highlighted fields.",
			"errors":  errs,
		})
		return
	}

	result, err := h.engine.Register(c.Request.Context(), &req)
	if err != nil {
		var providerErr *korapay.ProviderError
		switch {
		case errors.Is(err, models.ErrAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"message": "This email address is already registered and payment has been confirmed.",
			})
		case errors.As(err, &providerErr):
			h.logger.Error("Checkout initiation failed",
				zap.Int("provider_status", providerErr.StatusCode),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"message": "Could not start a checkout session. Please try again.",
			})
		default:
			h.logger.Error("Registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "An unexpected error occurred. Please try again later.",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Registration created. Redirect to checkout to complete payment.",
		"data":    result,
	})
}

// GetByID handles GET /api/registration/:id.
func (h *RegistrationHandler) GetByID(c *gin.Context) {
	reg, err := h.engine.GetRegistration(c.Request.Context(), c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Registration not found.",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to fetch registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch registration.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": reg})
}

// ListPaid handles GET /api/registration: all confirmed registrations,
// newest first. Admin auth must be added in front of this route before
// exposing it publicly.
func (h *RegistrationHandler) ListPaid(c *gin.Context) {
	regs, err := h.engine.ListPaidRegistrations(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list paid registrations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to list registrations.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(regs),
		"data":    regs,
	})
}
