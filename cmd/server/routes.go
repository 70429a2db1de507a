package main

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/handlers"
	"github.com/authgrid/authgrid/internal/middleware"
	"github.com/authgrid/authgrid/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// The token endpoint is the brute-force target; it gets its own
	// limiter. Redis-backed counting when available, per-process otherwise.
	var tokenLimiter gin.HandlerFunc
	if svc.redisClient != nil {
		tokenLimiter = middleware.NewRedisRateLimiter(svc.redisClient, 30, time.Minute, "token").Middleware()
	} else {
		tokenLimiter = middleware.NewRateLimiter(1, 30).Middleware()
	}
	loginLimiter := middleware.NewRateLimiter(1, 10)

	// Operational endpoints
	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics)

	// Discovery
	r.GET("/.well-known/openid-configuration", svc.wellKnownHandler.OpenIDConfiguration)
	r.GET("/.well-known/jwks.json", svc.wellKnownHandler.JWKS)

	// Protocol endpoints
	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", svc.oauthHandler.Authorize)
		oauth.POST("/consent", svc.oauthHandler.Consent)
		oauth.POST("/token", tokenLimiter, svc.oauthHandler.Token)
		oauth.POST("/revoke", svc.oauthHandler.Revoke)
		oauth.GET("/userinfo", middleware.AuthRequired(svc.codec), svc.oauthHandler.UserInfo)
	}

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)
			auth.POST("/logout", svc.authHandler.Logout)
			auth.GET("/me", svc.authHandler.Me)
		}

		// Bearer-protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(svc.codec))
		{
			protected.POST("/users/change-password", middleware.RequireScopes("write:profile"), svc.userHandler.ChangePassword)
		}

		// Admin routes: admin-tier scope plus audit logging
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(svc.codec), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.GET("/clients", svc.clientHandler.List)
			admin.GET("/clients/:id", svc.clientHandler.Get)
			admin.POST("/clients", svc.clientHandler.Create)
			admin.PUT("/clients/:id", svc.clientHandler.Update)
			admin.POST("/clients/:id/rotate-secret", svc.clientHandler.RotateSecret)
			admin.DELETE("/clients/:id", svc.clientHandler.Delete)

			admin.GET("/users", svc.userHandler.List)
			admin.GET("/users/:id", svc.userHandler.Get)
			admin.POST("/users", svc.userHandler.Create)
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)

			admin.GET("/events", svc.eventHandler.List)
			admin.GET("/events/modules", svc.eventHandler.Modules)

			admin.POST("/revocations", svc.revocationHandler.Create)

			admin.GET("/config", svc.configHandler.Get)
			admin.PUT("/config", svc.configHandler.Set)
		}
	}
}
