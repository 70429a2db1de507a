package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/services"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextClientID = "client_id"
	ContextScope    = "scope"
	ContextTokenID  = "token_id"
)

// AuthRequired validates the bearer access token and loads its claims into
// the request context. Failures answer per RFC 6750 with a
// WWW-Authenticate header.
func AuthRequired(codec *services.TokenCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "invalid_request", "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(c, "invalid_request", "authorization header must be a bearer token")
			return
		}

		claims, err := codec.ValidateAccessToken(c.Request.Context(), parts[1])
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				unauthorized(c, "invalid_token", "access token expired")
			case errors.Is(err, services.ErrTokenRevoked):
				unauthorized(c, "invalid_token", "access token revoked")
			default:
				unauthorized(c, "invalid_token", "access token invalid")
			}
			return
		}

		userID, err := strconv.ParseUint(claims.Subject, 10, 32)
		if err != nil {
			unauthorized(c, "invalid_token", "access token invalid")
			return
		}

		c.Set(ContextUserID, uint(userID))
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextClientID, claims.ClientID)
		c.Set(ContextScope, claims.Scope)
		c.Set(ContextTokenID, claims.ID)

		c.Next()
	}
}

// RequireScopes rejects requests whose token does not carry every listed
// scope.
func RequireScopes(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := GetScope(c)
		if !services.ScopeContains(scope, required...) {
			c.Header("WWW-Authenticate", fmt.Sprintf(
				`Bearer error="insufficient_scope", scope=%q`, strings.Join(required, " ")))
			c.JSON(http.StatusForbidden, gin.H{
				"error":             "insufficient_scope",
				"error_description": fmt.Sprintf("requires scope: %s", strings.Join(required, " ")),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRequired gates endpoints on any admin-tier scope.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !services.HasAdminScope(GetScope(c)) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":             "insufficient_scope",
				"error_description": "admin scope required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, code, description string) {
	c.Header("WWW-Authenticate", fmt.Sprintf("Bearer error=%q, error_description=%q", code, description))
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":             code,
		"error_description": description,
	})
	c.Abort()
}

// GetUserID gets the current user ID from context.
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetUsername gets the current username from context.
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		return username.(string)
	}
	return ""
}

// GetClientID gets the client the token was issued to.
func GetClientID(c *gin.Context) string {
	if clientID, exists := c.Get(ContextClientID); exists {
		return clientID.(string)
	}
	return ""
}

// GetScope gets the token's granted scope.
func GetScope(c *gin.Context) string {
	if scope, exists := c.Get(ContextScope); exists {
		return scope.(string)
	}
	return ""
}

// GetTokenID gets the token's jti.
func GetTokenID(c *gin.Context) string {
	if jti, exists := c.Get(ContextTokenID); exists {
		return jti.(string)
	}
	return ""
}
