package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/services"
)

var startTime = time.Now()

// Metrics returns Prometheus-compatible text format metrics.
// GET /metrics
func Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "authgrid_uptime_seconds", "Time since server start in seconds", float64(time.Since(startTime).Seconds()))
	writeGauge(&b, "authgrid_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "authgrid_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "authgrid_memory_sys_bytes", "Total memory obtained from OS in bytes", float64(m.Sys))
	writeGauge(&b, "authgrid_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	db := models.GetDB()
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			stats := sqlDB.Stats()
			writeGauge(&b, "authgrid_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
			writeGauge(&b, "authgrid_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
			writeGauge(&b, "authgrid_db_idle_connections", "Number of idle DB connections", float64(stats.Idle))
		}
	}

	// -- Queue metrics --
	queueAsync := 0.0
	if q := services.GetEventQueue(); q != nil && q.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "authgrid_queue_async_enabled", "Whether async event queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Domain metrics --
	if db != nil {
		now := time.Now()

		var activeTokens, revokedTokens int64
		db.Model(&models.RefreshToken{}).
			Where("replaced_by_token_id IS NULL AND revoked_at IS NULL AND expires_at > ?", now).
			Count(&activeTokens)
		db.Model(&models.RefreshToken{}).Where("revoked_at IS NOT NULL").Count(&revokedTokens)

		writeGauge(&b, "authgrid_refresh_tokens_active", "Number of live refresh tokens", float64(activeTokens))
		writeGauge(&b, "authgrid_refresh_tokens_revoked", "Number of revoked refresh tokens not yet swept", float64(revokedTokens))

		var pendingCodes int64
		db.Model(&models.AuthorizationCode{}).
			Where("consumed_at IS NULL AND expires_at > ?", now).
			Count(&pendingCodes)
		writeGauge(&b, "authgrid_auth_codes_pending", "Number of unconsumed authorization codes", float64(pendingCodes))

		var clientCount, userCount int64
		db.Model(&models.OAuthClient{}).Where("is_active = ?", true).Count(&clientCount)
		db.Model(&models.User{}).Where("deleted_at IS NULL AND is_active = ?", true).Count(&userCount)

		writeGauge(&b, "authgrid_clients_active", "Number of active OAuth clients", float64(clientCount))
		writeGauge(&b, "authgrid_users_active", "Number of active users", float64(userCount))

		// Security events (last 24h)
		since24h := now.Add(-24 * time.Hour)
		var securityEvents24h int64
		db.Model(&models.SystemLog{}).
			Where("level = ? AND created_at >= ?", "security", since24h).
			Count(&securityEvents24h)
		writeGauge(&b, "authgrid_security_events_24h", "Security events in the last 24 hours", float64(securityEvents24h))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
