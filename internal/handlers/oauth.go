package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/keys"
	"github.com/authgrid/authgrid/internal/middleware"
	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/logger"
	"github.com/authgrid/authgrid/pkg/response"
)

// OAuthHandler implements the protocol endpoints: /oauth/authorize,
// /oauth/token, /oauth/revoke and /oauth/userinfo.
type OAuthHandler struct {
	authorize *services.AuthorizeService
	tokens    *services.TokenService
	clients   *services.ClientService
	auth      *services.AuthService
	users     *services.UserService
	codec     *services.TokenCodec
	blacklist *services.TokenBlacklist
}

func NewOAuthHandler(
	authorize *services.AuthorizeService,
	tokens *services.TokenService,
	clients *services.ClientService,
	auth *services.AuthService,
	users *services.UserService,
	codec *services.TokenCodec,
	blacklist *services.TokenBlacklist,
) *OAuthHandler {
	return &OAuthHandler{
		authorize: authorize,
		tokens:    tokens,
		clients:   clients,
		auth:      auth,
		users:     users,
		codec:     codec,
		blacklist: blacklist,
	}
}

type authorizeQuery struct {
	ClientID            string `form:"client_id"`
	RedirectURI         string `form:"redirect_uri"`
	ResponseType        string `form:"response_type"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
}

// Authorize handles the front-channel authorization request.
// GET /oauth/authorize
func (h *OAuthHandler) Authorize(c *gin.Context) {
	var q authorizeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Nothing can be delivered by redirect until these are present and the
	// redirect URI is validated, so missing basics are a direct error.
	if q.ClientID == "" || q.RedirectURI == "" || q.State == "" {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "client_id, redirect_uri and state are required")
		return
	}

	user := h.sessionUser(c)
	if user == nil {
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "login_required", "no active session")
		return
	}

	req, err := h.authorize.ValidateRequest(user.ID, q.ClientID, q.RedirectURI, q.ResponseType, q.Scope, q.State, q.CodeChallenge, q.CodeChallengeMethod)
	if err != nil {
		h.authorizeError(c, q, err)
		return
	}

	if req.NeedsConsent {
		// The UI collects approval and posts it back to /oauth/consent.
		c.JSON(http.StatusOK, gin.H{
			"consent_required": true,
			"client_id":        req.Client.ID,
			"client_name":      req.Client.Name,
			"scope":            req.Scope,
			"scopes":           scopeDetails(req.Scope),
			"redirect_uri":     req.RedirectURI,
			"state":            req.State,
		})
		return
	}

	h.issueCodeRedirect(c, user, req)
}

type consentRequest struct {
	ClientID            string `json:"client_id" binding:"required"`
	RedirectURI         string `json:"redirect_uri" binding:"required"`
	Scope               string `json:"scope" binding:"required"`
	State               string `json:"state"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Approve             bool   `json:"approve"`
}

// Consent records the user's decision and finishes the authorization.
// POST /oauth/consent
func (h *OAuthHandler) Consent(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user := h.sessionUser(c)
	if user == nil {
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "login_required", "no active session")
		return
	}

	// Revalidate: the request parameters travelled through the browser and
	// cannot be trusted to match what was shown on the consent screen.
	validated, err := h.authorize.ValidateRequest(user.ID, req.ClientID, req.RedirectURI, "code", req.Scope, req.State, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		h.authorizeError(c, authorizeQuery{
			ClientID:    req.ClientID,
			RedirectURI: req.RedirectURI,
			State:       req.State,
		}, err)
		return
	}

	if !req.Approve {
		response.OAuthErrorRedirect(c, validated.RedirectURI, "access_denied", "the user denied the request", validated.State)
		return
	}

	if err := h.authorize.GrantConsent(user.ID, validated.Client.ID, validated.Scope); err != nil {
		response.OAuthErrorJSON(c, http.StatusInternalServerError, "server_error", "failed to record consent")
		return
	}

	h.issueCodeRedirect(c, user, validated)
}

func (h *OAuthHandler) issueCodeRedirect(c *gin.Context, user *models.User, req *services.AuthRequest) {
	code, err := h.authorize.IssueCode(user.ID, req)
	if err != nil {
		response.OAuthErrorRedirect(c, req.RedirectURI, "server_error", "failed to issue authorization code", req.State)
		return
	}

	q := url.Values{}
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}

	sep := "?"
	if u, err := url.Parse(req.RedirectURI); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	c.Redirect(http.StatusFound, req.RedirectURI+sep+q.Encode())
}

// authorizeError routes a validation failure to the right channel: direct
// JSON before the redirect URI is trusted, redirect after.
func (h *OAuthHandler) authorizeError(c *gin.Context, q authorizeQuery, err error) {
	var reqErr *services.AuthRequestError
	if errors.As(err, &reqErr) {
		response.OAuthErrorRedirect(c, q.RedirectURI, reqErr.Code, reqErr.Description, q.State)
		return
	}

	switch {
	case errors.Is(err, services.ErrClientNotFound), errors.Is(err, services.ErrClientInactive):
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_client", "unknown or inactive client")
	case errors.Is(err, services.ErrRedirectURIMismatch):
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "redirect_uri is not registered for this client")
	default:
		response.OAuthErrorJSON(c, http.StatusInternalServerError, "server_error", "authorization failed")
	}
}

// tokenRequest covers both encodings the token endpoint accepts:
// application/x-www-form-urlencoded and JSON.
type tokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// Token is the back-channel token endpoint.
// POST /oauth/token
func (h *OAuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	client, ok := h.authenticateClient(c, req.ClientID, req.ClientSecret)
	if !ok {
		return
	}

	switch req.GrantType {
	case "authorization_code":
		h.tokenAuthorizationCode(c, client, &req)
	case "refresh_token":
		h.tokenRefresh(c, client, &req)
	case "":
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "grant_type is required")
	default:
		response.OAuthErrorJSON(c, http.StatusBadRequest, "unsupported_grant_type", "supported grant types: authorization_code, refresh_token")
	}
}

func (h *OAuthHandler) tokenAuthorizationCode(c *gin.Context, client *models.OAuthClient, req *tokenRequest) {
	if req.Code == "" || req.RedirectURI == "" {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "code and redirect_uri are required")
		return
	}

	grant, err := h.authorize.ExchangeCode(req.Code, client.ID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPKCERequired):
			response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "code_verifier is required")
		case errors.Is(err, services.ErrCodeInvalid), errors.Is(err, services.ErrCodeExpired),
			errors.Is(err, services.ErrCodeConsumed), errors.Is(err, services.ErrPKCEMismatch):
			response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_grant", "authorization code is invalid, expired or already used")
		default:
			response.OAuthErrorJSON(c, http.StatusInternalServerError, "server_error", "token issuance failed")
		}
		return
	}

	user, err := h.users.Get(grant.UserID)
	if err != nil || !user.IsActive {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_grant", "user is no longer available")
		return
	}

	pair, err := h.tokens.IssueTokenPair(user, client.ID, grant.Scope, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, keys.ErrKeysNotConfigured) {
			response.OAuthErrorJSON(c, http.StatusServiceUnavailable, "not_configured", "signing keys not configured")
			return
		}
		response.OAuthErrorJSON(c, http.StatusInternalServerError, "server_error", "token issuance failed")
		return
	}

	noStore(c)
	c.JSON(http.StatusOK, pair)
}

func (h *OAuthHandler) tokenRefresh(c *gin.Context, client *models.OAuthClient, req *tokenRequest) {
	if req.RefreshToken == "" {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, outcome, err := h.tokens.Rotate(req.RefreshToken, client.ID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.OAuthErrorJSON(c, http.StatusInternalServerError, "server_error", "token rotation failed")
		return
	}

	// Every rotation failure maps to the same generic 401 so callers cannot
	// probe token state; only the reuse message differs, since the user has
	// to log in again everywhere.
	switch outcome {
	case services.RotateSuccess:
		noStore(c)
		c.JSON(http.StatusOK, pair)
	case services.RotateReuseDetected:
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "invalid_grant", "all sessions revoked")
	default:
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "invalid_grant", "refresh token is invalid, expired or revoked")
	}
}

// Revoke implements RFC 7009. Revocation of an unknown token succeeds.
// POST /oauth/revoke
func (h *OAuthHandler) Revoke(c *gin.Context) {
	client, ok := h.authenticateClient(c, c.PostForm("client_id"), c.PostForm("client_secret"))
	if !ok {
		return
	}

	token := c.PostForm("token")
	if token == "" {
		response.OAuthErrorJSON(c, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	// The hint only orders the attempts; both interpretations are always
	// tried, so a token revoked with the wrong hint still dies.
	if c.PostForm("token_type_hint") == "access_token" && h.revokeAccessToken(c, client, token) {
		c.Status(http.StatusOK)
		return
	}

	if err := h.tokens.Revoke(token, client.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.OAuthErrorJSON(c, http.StatusInternalServerError, "server_error", "revocation failed")
		return
	}
	h.revokeAccessToken(c, client, token)

	c.Status(http.StatusOK)
}

// revokeAccessToken blacklists a still-valid access token for the rest of
// its lifetime. It reports whether the token parsed as an access token
// belonging to the authenticated client.
func (h *OAuthHandler) revokeAccessToken(c *gin.Context, client *models.OAuthClient, token string) bool {
	if h.blacklist == nil {
		return false
	}

	claims, err := h.codec.ValidateAccessToken(c.Request.Context(), token)
	if err != nil || claims.ClientID != client.ID {
		return false
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := h.blacklist.Add(c.Request.Context(), claims.ID, ttl); err != nil {
		logger.Errorf("[OAuth] Failed to blacklist access token %s: %v", claims.ID, err)
	}
	return true
}

// UserInfo returns claims about the token's subject, filtered by scope.
// GET /oauth/userinfo (behind AuthRequired)
func (h *OAuthHandler) UserInfo(c *gin.Context) {
	user, err := h.users.Get(middleware.GetUserID(c))
	if err != nil {
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "invalid_token", "user no longer exists")
		return
	}

	scope := middleware.GetScope(c)
	info := gin.H{"sub": user.ID}

	if services.ScopeContains(scope, "profile") {
		info["username"] = user.Username
		info["nickname"] = user.Nickname
	}
	if services.ScopeContains(scope, "email") {
		info["email"] = user.Email
	}

	c.JSON(http.StatusOK, info)
}

// authenticateClient accepts client_secret_basic, client_secret_post, and
// bare client_id for public clients. On failure it writes the 401 itself.
func (h *OAuthHandler) authenticateClient(c *gin.Context, bodyClientID, bodyClientSecret string) (*models.OAuthClient, bool) {
	clientID, clientSecret, hasBasic := c.Request.BasicAuth()
	if !hasBasic {
		clientID = bodyClientID
		clientSecret = bodyClientSecret
	}

	if clientID == "" {
		c.Header("WWW-Authenticate", `Basic realm="authgrid"`)
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "invalid_client", "client authentication required")
		return nil, false
	}

	client, err := h.clients.Authenticate(clientID, clientSecret)
	if err != nil {
		services.LogSecurity("oauth", "client_auth_failed", "client authentication failed", nil, clientID, c.ClientIP(), c.Request.UserAgent(), nil)
		c.Header("WWW-Authenticate", `Basic realm="authgrid"`)
		response.OAuthErrorJSON(c, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return nil, false
	}
	return client, true
}

func (h *OAuthHandler) sessionUser(c *gin.Context) *models.User {
	sessionID, err := c.Cookie(h.auth.CookieName())
	if err != nil {
		return nil
	}
	user, err := h.auth.ResolveSession(c.Request.Context(), sessionID)
	if err != nil {
		return nil
	}
	return user
}

func scopeDetails(scope string) []services.ScopeInfo {
	var details []services.ScopeInfo
	for _, name := range services.ParseScope(scope) {
		if info, ok := services.LookupScope(name); ok {
			details = append(details, info)
		}
	}
	return details
}

// noStore marks token responses uncacheable per RFC 6749 section 5.1.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
