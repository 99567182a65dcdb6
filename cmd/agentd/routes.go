package main

import (
	"database/sql"
	"log/slog"

	"callcenter-platform/internal/audit"
	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/engine"
	"callcenter-platform/internal/httpapi"
	"callcenter-platform/internal/rbac"
	"callcenter-platform/internal/reporting"
	"callcenter-platform/internal/telephony"
	"callcenter-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	Auth    *auth.Manager
	Engine  *engine.Engine
	Store   callstore.Store
	Reports *reporting.Service
	Audit   *audit.Service
	Device  *telephony.EventAdapter
	DB      *sql.DB
	Redis   *redis.Client
	Log     *slog.Logger
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:    deps.Auth,
		Engine:  deps.Engine,
		Store:   deps.Store,
		Reports: deps.Reports,
		Audit:   deps.Audit,
		Device:  deps.Device,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if err := deps.DB.PingContext(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["db"] = "down"
		}
		if err := deps.Redis.Ping(c.Request.Context()).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = "down"
		}
		c.JSON(200, status)
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by provider signature validation in production.
	{
		wh := telephony.WebhookHandlers{
			Store: deps.Store,
			Log:   logger.Component(deps.Log, "webhooks"),
		}
		r.POST("/webhooks/voice/inbound", wh.HandleInboundCall)
		r.POST("/webhooks/voice/status", wh.HandleStatusCallback)
	}

	r.POST("/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.Auth))
	{
		v1.GET("/me", h.Me)

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/answer", h.Answer)
			calls.POST("/:call_id/decline", h.Decline)
			calls.POST("/:call_id/hangup", h.Hangup)
			calls.POST("/dial", h.Dial)
		}

		device := v1.Group("/device")
		device.Use(rbac.RequireAnyRole(rbac.RoleAgent))
		{
			device.POST("/signals", h.DeviceSignal)
		}

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			reports.GET("/calls/summary", h.CallsSummary)
		}
	}
}
