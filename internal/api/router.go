package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/handlers"
	"github.com/leadconf/registration-service/internal/interfaces"
	"github.com/leadconf/registration-service/internal/service"
	"github.com/leadconf/registration-service/internal/telemetry"
)

func NewRouter(engine *service.Engine, gateway interfaces.PaymentGateway, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "registration-service"})
	})

	registrationHandler := handlers.NewRegistrationHandler(engine, logger)
	registration := r.Group("/api/registration")
	registration.POST("", registrationHandler.Register)
	registration.GET("", registrationHandler.ListPaid)
	registration.GET("/:id", registrationHandler.GetByID)

	paymentHandler := handlers.NewPaymentHandler(engine, logger)
	webhookHandler := handlers.NewWebhookHandler(engine, gateway, logger)
	payment := r.Group("/api/payment")
	payment.POST("/initiate", paymentHandler.InitiatePayment)
	payment.GET("/verify/:reference", paymentHandler.VerifyPayment)
	payment.POST("/webhook", webhookHandler.HandleWebhook)

	return r
}
