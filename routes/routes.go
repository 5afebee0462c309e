package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/controllers"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/middleware"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Webhook  *controllers.WebhookController
	Approval *controllers.ApprovalController
	Runs     *controllers.RunController
	Health   *controllers.HealthController

	WebhookLimiter  middleware.RateLimiter
	ApprovalLimiter middleware.RateLimiter

	// OnWebhookLimited is called for each rate limited webhook. Optional.
	OnWebhookLimited func()

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func RegisterRoutes(router *gin.Engine, h Handlers, logger *zap.Logger) {
	// Public
	router.GET("/", h.Health.Root)
	router.GET("/health", h.Health.Health)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	// Inbox monitor
	webhook := router.Group("/webhook", middleware.RateLimit(h.WebhookLimiter, "webhook", logger, h.OnWebhookLimited))
	{
		webhook.POST("/pi", h.Webhook.HandleStockAlert)
	}

	// Approval links from notifications
	approval := router.Group("/approval/:run_id", middleware.RateLimit(h.ApprovalLimiter, "approval", logger, nil))
	{
		approval.GET("/approve", h.Approval.Approve)
		approval.POST("/approve", h.Approval.Approve)
		approval.GET("/reject", h.Approval.Reject)
		approval.POST("/reject", h.Approval.Reject)
		approval.GET("/status", h.Approval.Status)
	}

	router.GET("/runs/:run_id", h.Runs.GetRun)
}
