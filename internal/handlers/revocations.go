package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/middleware"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// RevocationHandler lets operators cut off tokens in bulk without waiting
// for individual RFC 7009 calls.
type RevocationHandler struct {
	tokens *services.TokenService
}

func NewRevocationHandler(tokens *services.TokenService) *RevocationHandler {
	return &RevocationHandler{tokens: tokens}
}

type revocationRequest struct {
	UserID   *uint  `json:"user_id"`
	ClientID string `json:"client_id"`
	FamilyID string `json:"family_id"`
}

// Create revokes all refresh tokens matching exactly one selector: a user,
// a client, or a token family.
// POST /api/admin/revocations
func (h *RevocationHandler) Create(c *gin.Context) {
	var req revocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	selectors := 0
	if req.UserID != nil {
		selectors++
	}
	if req.ClientID != "" {
		selectors++
	}
	if req.FamilyID != "" {
		selectors++
	}
	if selectors != 1 {
		response.BadRequest(c, "exactly one of user_id, client_id, family_id is required")
		return
	}

	var (
		revoked int64
		err     error
	)
	switch {
	case req.UserID != nil:
		revoked, err = h.tokens.RevokeUserTokens(*req.UserID)
	case req.ClientID != "":
		revoked, err = h.tokens.RevokeClientTokens(req.ClientID)
	default:
		err = h.tokens.RevokeFamily(req.FamilyID)
	}
	if err != nil {
		response.ServerError(c, "revocation failed")
		return
	}

	adminUserID := middleware.GetUserID(c)
	services.LogSecurity("token", "bulk_revocation", "operator revoked tokens", &adminUserID, req.ClientID, c.ClientIP(), c.Request.UserAgent(),
		map[string]interface{}{"user_id": req.UserID, "family_id": req.FamilyID, "revoked": revoked})

	response.Success(c, gin.H{"revoked": revoked})
}
