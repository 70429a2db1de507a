package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/authgrid/authgrid/internal/keys"
	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/services"
)

// HealthHandler reports subsystem status.
type HealthHandler struct {
	keys  *keys.Provider
	redis *redis.Client
}

func NewHealthHandler(kp *keys.Provider, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{keys: kp, redis: redisClient}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Redis check. Redis is optional, so a missing client is "disabled",
	// not unhealthy.
	redisStatus := "disabled"
	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error: " + err.Error()
			overall = "degraded"
		} else {
			redisStatus = "ok"
		}
	}

	// Signing keys. Without them the token endpoint cannot issue access
	// tokens, but the server itself is up.
	keysStatus := "ok"
	if h.keys == nil || !h.keys.Configured() {
		keysStatus = "not_configured"
		if overall == "healthy" {
			overall = "degraded"
		}
	}

	// Queue mode
	queueMode := "sync"
	if q := services.GetEventQueue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	// Live refresh token count
	var activeTokens int64
	models.GetDB().Model(&models.RefreshToken{}).
		Where("replaced_by_token_id IS NULL AND revoked_at IS NULL AND expires_at > ?", time.Now()).
		Count(&activeTokens)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "authgrid",
		"components": gin.H{
			"database":      dbStatus,
			"redis":         redisStatus,
			"signing_keys":  keysStatus,
			"queue_mode":    queueMode,
			"active_tokens": activeTokens,
		},
	})
}
