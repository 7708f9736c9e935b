package main

import (
	"net/http"
	"time"

	"outbound-dialer/internal/app"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/rbac"
	"outbound-dialer/internal/webhook"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app.App, authMW gin.HandlerFunc) {
	h := httpapi.Handlers{
		Jobs:            a.Jobs,
		Calls:           a.Calls,
		CallLogs:        a.CallLogs,
		Tokens:          a.Tokens,
		Worker:          a.Worker,
		Redis:           a.Redis,
		RateLimit:       cfg.StatusToken.RateLimit,
		RateLimitWindow: cfg.StatusToken.RateLimitWindow,
		WorkerSecret:    cfg.Worker.TriggerSecret,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// Provider webhooks (public, optional shared secret).
	wh := webhook.Handler{
		Ingestor: webhook.NewIngestor(a.CallLogs, webhook.NewRedisDedupe(a.Redis, 0), a.Metrics),
		Secret:   cfg.ConvAI.WebhookSecret,
	}
	r.POST("/webhooks/convai", wh.Handle)

	// Anonymous status reads, authorized by the per-call status token.
	r.GET("/v1/calls/:conversation_id/status", h.CallStatus)

	// External scheduler trigger.
	r.POST("/internal/worker/tick", h.WorkerTick)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireAnyRole(rbac.RoleMember))
	{
		v1.POST("/jobs", h.EnqueueJob)
		v1.GET("/jobs/:job_id", h.GetJob)
		v1.POST("/calls", h.InitiateCall)
	}
}
