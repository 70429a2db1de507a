package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/middleware"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// ConfigHandler lets operators read and tune runtime settings such as
// token lifetimes without restarting the server.
type ConfigHandler struct {
	runtime *services.RuntimeConfigService
}

func NewConfigHandler(runtime *services.RuntimeConfigService) *ConfigHandler {
	return &ConfigHandler{runtime: runtime}
}

// tunableKeys is the allow-list of settings the API may change. Anything
// else in system_configs is internal.
var tunableKeys = map[string]bool{
	"access_token_ttl_seconds": true,
	"refresh_token_ttl_hours":  true,
	"auth_code_ttl_seconds":    true,
	"log_retention_days":       true,
}

// Get returns the effective token lifetimes.
// GET /api/admin/config
func (h *ConfigHandler) Get(c *gin.Context) {
	response.Success(c, gin.H{
		"access_token_ttl_seconds": int(h.runtime.AccessTokenTTL().Seconds()),
		"refresh_token_ttl_hours":  int(h.runtime.RefreshTokenTTL().Hours()),
		"auth_code_ttl_seconds":    int(h.runtime.AuthCodeTTL().Seconds()),
		"log_retention_days":       h.runtime.GetWithDefault("log_retention_days", "30"),
	})
}

type setConfigRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// Set updates one tunable.
// PUT /api/admin/config
func (h *ConfigHandler) Set(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !tunableKeys[req.Key] {
		response.BadRequest(c, "unknown config key: "+req.Key)
		return
	}
	if n, err := strconv.Atoi(req.Value); err != nil || n <= 0 {
		response.BadRequest(c, "value must be a positive integer")
		return
	}

	if err := h.runtime.Set(req.Key, req.Value); err != nil {
		response.ServerError(c, "failed to save config")
		return
	}

	adminUserID := middleware.GetUserID(c)
	services.LogInfo("config", "config_changed", "runtime config updated", &adminUserID, "", c.ClientIP(), c.Request.UserAgent(),
		map[string]interface{}{"key": req.Key, "value": req.Value})

	response.Success(c, nil)
}
