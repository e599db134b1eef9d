package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"receptionist/internal/httpapi"
	"receptionist/internal/rbac"
	"receptionist/internal/telephony"
)

type routeDeps struct {
	API   httpapi.Handlers
	Voice telephony.VoiceHandler

	// TwilioAuthToken enables signature checks on the voice webhooks when set.
	TwilioAuthToken string
	PublicBaseURL   string

	CORSOrigins []string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// Engine-level so dashboard preflights reach it before routing.
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// public
	r.GET("/healthz", d.API.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public, signed).
	voice := r.Group("/webhooks/twilio/voice")
	if d.TwilioAuthToken != "" {
		voice.Use(telephony.RequireSignature(d.TwilioAuthToken, d.PublicBaseURL))
	}
	{
		voice.POST("/incoming", d.Voice.HandleIncoming)
		voice.POST("/gather", d.Voice.HandleGather)
		voice.POST("/status", d.Voice.HandleStatus)
	}

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", d.API.Login)
		authGroup.POST("/refresh", d.API.Refresh)
	}

	// ADMIN routes
	admin := v1.Group("/admin")
	admin.Use(httpapi.RequireAuthAndAnyRole(d.API.Auth, rbac.RoleAdmin, rbac.RoleAnalyst)...)
	{
		admin.GET("/metrics", d.API.Dashboard)
	}

	// ORDER routes
	ordersGroup := v1.Group("/orders")
	ordersGroup.Use(httpapi.RequireAuthAndAnyRole(d.API.Auth, rbac.RoleAdmin, rbac.RoleAgent)...)
	{
		ordersGroup.POST("", d.API.CreateOrder)
	}
}
