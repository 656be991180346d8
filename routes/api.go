package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/handlers"
	"github.com/onurcolak/whatsapp-automation-service/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	messageHandler *handlers.MessageHandler,
	schedulerHandler *handlers.SchedulerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Meta calls these directly, so they are guarded by the app signature instead of an API key.
	webhooks := e.Group("/webhooks")
	webhooks.GET("/whatsapp", webhookHandler.Verify)
	webhooks.POST("/whatsapp", webhookHandler.Receive, middlewares.WebhookSignature(cfg.WhatsApp.AppSecret))

	// API v1 base group
	v1 := e.Group("/api/v1")

	messages := v1.Group("/messages", middlewares.APIKeyAuth(cfg.Auth.MessagesAPIKey))

	messages.POST("", messageHandler.TrackMessage)
	messages.GET("/stats", messageHandler.GetStats)
	messages.GET("/conversation", messageHandler.GetConversation)
	messages.POST("/retry", messageHandler.RetryFailed)
	messages.GET("/:id", messageHandler.GetMessage)
	messages.PATCH("/:id/status", messageHandler.UpdateStatus)

	schedulerGroup := v1.Group("/scheduler", middlewares.APIKeyAuth(cfg.Auth.SchedulerAPIKey))

	schedulerGroup.POST("/start", schedulerHandler.StartScheduler)
	schedulerGroup.POST("/stop", schedulerHandler.StopScheduler)
	schedulerGroup.GET("/status", schedulerHandler.GetSchedulerStatus)
	schedulerGroup.POST("/run", schedulerHandler.RunNow)
}
