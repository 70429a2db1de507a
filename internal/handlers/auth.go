package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// AuthHandler drives the first-party login UI: session login, logout and
// the current-user probe the authorize page uses.
type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login verifies a password and sets the session cookie.
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.PasswordLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "username and password are required")
		return
	}

	user, sessionID, err := h.auth.Login(c.Request.Context(), &req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			response.Unauthorized(c, "invalid username or password")
			return
		}
		response.ServerError(c, "login failed")
		return
	}

	maxAge := int(h.auth.SessionTTL().Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.auth.CookieName(), sessionID, maxAge, "/", "", h.auth.SecureCookies(), true)

	response.Success(c, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"nickname": user.Nickname,
		"role":     user.Role,
	})
}

// Logout drops the session server side and clears the cookie.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID, _ := c.Cookie(h.auth.CookieName())
	if err := h.auth.Logout(c.Request.Context(), sessionID); err != nil {
		response.ServerError(c, "logout failed")
		return
	}

	c.SetCookie(h.auth.CookieName(), "", -1, "/", "", h.auth.SecureCookies(), true)
	response.Success(c, nil)
}

// Me resolves the session cookie to the logged-in user. The authorize page
// calls this to decide whether to show the login form.
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	sessionID, _ := c.Cookie(h.auth.CookieName())
	user, err := h.auth.ResolveSession(c.Request.Context(), sessionID)
	if err != nil {
		response.ServerError(c, "session lookup failed")
		return
	}
	if user == nil {
		response.Unauthorized(c, "not logged in")
		return
	}

	response.Success(c, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"nickname": user.Nickname,
		"email":    user.Email,
		"role":     user.Role,
	})
}
