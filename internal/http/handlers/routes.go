package handlers

import (
	"net/http"

	"covertext/internal/app"
	"covertext/internal/http/middleware"

	"github.com/labstack/echo/v4"
)

// SetupRoutes sets up all API routes
func SetupRoutes(api *echo.Group, services *app.Services) {
	// WebSocket hub doubles as the event notifier for webhook processing.
	wsHandler := NewWebSocketHandler(services.AuthService)
	services.InboundHandler.SetEventNotifier(wsHandler)
	services.DeliveryHandler.SetEventNotifier(wsHandler)

	// Auth routes (no authentication required)
	authHandler := NewAuthHandler(services.AuthService)
	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.RefreshToken)

	// Protected routes (require authentication)
	protected := api.Group("")
	protected.Use(middleware.JWTAuth(services.AuthService))

	profileAuth := protected.Group("/auth")
	profileAuth.PUT("/profile", authHandler.UpdateProfile)
	profileAuth.PUT("/change-password", authHandler.ChangePassword)

	// Conversations and messages
	conversationHandler := NewConversationHandler(
		services.ConversationRepo,
		services.MessageRepo,
		services.AgentRepo,
		services.AgencyRepo,
		services.SendGate,
	)
	conversations := protected.Group("/conversations")
	conversations.GET("", conversationHandler.List)
	conversations.GET("/:id/messages", conversationHandler.ListMessages)
	conversations.POST("/:id/messages", conversationHandler.SendMessage)

	messages := protected.Group("/messages")
	messages.GET("/drafts", conversationHandler.ListDrafts)
	messages.POST("/:id/approve", conversationHandler.ApproveDraft)
	messages.POST("/:id/retry", conversationHandler.RetryFailed)

	// Deals, the attention queue and packet documents
	dealHandler := NewDealHandler(services.DealRepo, services.PacketStorage)
	deals := protected.Group("/deals")
	deals.GET("", dealHandler.List)
	deals.POST("", dealHandler.Create)
	deals.GET("/attention", dealHandler.ListAttention)
	deals.GET("/:id", dealHandler.GetByID)
	deals.PUT("/:id", dealHandler.Update)
	deals.DELETE("/:id/attention", dealHandler.ClearAttention)
	deals.POST("/:id/packet", dealHandler.UploadPacketDocument)

	// Settings and usage
	settingsHandler := NewSettingsHandler(services.AgencyRepo, services.AgentRepo)
	settings := protected.Group("/settings")
	settings.GET("/agency", settingsHandler.GetAgencySettings)
	settings.PUT("/agency/auto-send", settingsHandler.UpdateAgencyAutoSend, middleware.AgencyAdminOnly())
	settings.PUT("/agent/auto-send", settingsHandler.UpdateAgentOverride)
	settings.GET("/usage", settingsHandler.GetUsage)

	// WebSocket endpoint (authenticates via query parameter)
	api.GET("/ws", wsHandler.HandleWebSocket)

	// Provider webhooks (public, the provider cannot send a JWT)
	webhooks := api.Group("/webhook")
	webhooks.POST("/sms", services.InboundHandler.HandleInbound)
	webhooks.POST("/sms/status", services.DeliveryHandler.HandleDeliveryStatus)

	// Scheduler dispatch endpoints, gated by the shared cron secret
	cronHandler := NewCronHandler(services.Dispatch)
	crons := api.Group("/crons", middleware.CronSecret(services.Config.CronSecret))
	crons.POST("/birthday", cronHandler.RunBirthday)
	crons.POST("/lapse", cronHandler.RunLapse)
	crons.POST("/billing-notice", cronHandler.RunBillingNotice)
	crons.POST("/policy-packet", cronHandler.RunPolicyPacket)

	// Health check
	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
