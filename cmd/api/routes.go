package main

import (
	"context"
	"net/http"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/config"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		if a.rdb != nil {
			if err := utils.PingRedis(c.Request.Context(), a.rdb, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "redis unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": a.provider.Name()})
	})

	// Provider webhooks (public).
	hooks := r.Group("/webhooks/twilio")
	if cfg.Twilio.ValidateSignatures {
		hooks.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL))
	}
	{
		h := telephony.TwilioWebhookHandler{
			Instructions: a.dispatcher.Instructions,
			ApplyStatus: func(ctx context.Context, callID string, u calls.StatusUpdate) error {
				return a.ingestor.ApplyStatus(ctx, callID, u).Err()
			},
			ApplyRecording: func(ctx context.Context, callID, ref string) error {
				return a.ingestor.ApplyRecording(ctx, callID, ref).Err()
			},
		}
		hooks.GET("/instructions/:call_id", h.HandleInstructions)
		hooks.POST("/instructions/:call_id", h.HandleInstructions)
		hooks.POST("/status/:call_id", h.HandleStatus)
		hooks.POST("/recording/:call_id", h.HandleRecording)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.auth))
	httpapi.Handlers{
		Contacts:    a.store,
		Calls:       a.dispatcher,
		Batches:     a.sequencer,
		Retries:     a.scheduler,
		Transcripts: a.queries,
		Reports:     a.reports,
		Audit:       a.audit,
	}.Register(v1)
}
