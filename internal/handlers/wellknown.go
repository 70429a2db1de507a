package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/keys"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// WellKnownHandler serves the discovery document and the JWKS.
type WellKnownHandler struct {
	issuer string
	keys   *keys.Provider
}

func NewWellKnownHandler(issuer string, kp *keys.Provider) *WellKnownHandler {
	return &WellKnownHandler{issuer: issuer, keys: kp}
}

// OpenIDConfiguration serves the discovery document.
// GET /.well-known/openid-configuration
func (h *WellKnownHandler) OpenIDConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"issuer":                                h.issuer,
		"authorization_endpoint":                h.issuer + "/oauth/authorize",
		"token_endpoint":                        h.issuer + "/oauth/token",
		"revocation_endpoint":                   h.issuer + "/oauth/revoke",
		"userinfo_endpoint":                     h.issuer + "/oauth/userinfo",
		"jwks_uri":                              h.issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
		"scopes_supported":                      services.ScopeNames(),
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"subject_types_supported":               []string{"public"},
	})
}

// JWKS serves the public signing keys. While no keypair is configured the
// endpoint reports 503 rather than an empty key set, so relying parties
// can tell "not ready" from "no keys".
// GET /.well-known/jwks.json
func (h *WellKnownHandler) JWKS(c *gin.Context) {
	jwk, err := h.keys.JWK()
	if err != nil {
		response.OAuthErrorJSON(c, http.StatusServiceUnavailable, "not_configured", "signing keys not configured")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys": []*keys.JWK{jwk},
	})
}
