package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/middleware"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// ClientHandler is the admin CRUD surface for registered OAuth clients.
type ClientHandler struct {
	clients *services.ClientService
}

func NewClientHandler(clients *services.ClientService) *ClientHandler {
	return &ClientHandler{clients: clients}
}

// List returns all registered clients.
// GET /api/admin/clients
func (h *ClientHandler) List(c *gin.Context) {
	clients, err := h.clients.List()
	if err != nil {
		response.ServerError(c, "failed to list clients")
		return
	}
	response.Success(c, clients)
}

// Get returns one client.
// GET /api/admin/clients/:id
func (h *ClientHandler) Get(c *gin.Context) {
	client, err := h.clients.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrClientNotFound) {
			response.NotFound(c, "client not found")
			return
		}
		response.ServerError(c, "failed to load client")
		return
	}
	response.Success(c, client)
}

// Create registers a client. The plaintext secret of a confidential client
// appears only in this response.
// POST /api/admin/clients
func (h *ClientHandler) Create(c *gin.Context) {
	var req services.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.clients.Create(&req)
	if err != nil {
		if errors.Is(err, services.ErrClientExists) {
			response.Error(c, response.NewConflict("client id already exists"))
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	adminUserID := middleware.GetUserID(c)
	services.LogInfo("client", "client_created", "oauth client registered", &adminUserID, result.Client.ID, c.ClientIP(), c.Request.UserAgent(), nil)

	response.Created(c, result)
}

// Update modifies a client. Deactivation revokes its refresh tokens.
// PUT /api/admin/clients/:id
func (h *ClientHandler) Update(c *gin.Context) {
	var req services.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	client, err := h.clients.Update(c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, services.ErrClientNotFound) {
			response.NotFound(c, "client not found")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, client)
}

// RotateSecret issues a new secret for a confidential client.
// POST /api/admin/clients/:id/rotate-secret
func (h *ClientHandler) RotateSecret(c *gin.Context) {
	secret, err := h.clients.RotateSecret(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrClientNotFound) {
			response.NotFound(c, "client not found")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	adminUserID := middleware.GetUserID(c)
	services.LogSecurity("client", "secret_rotated", "client secret rotated", &adminUserID, c.Param("id"), c.ClientIP(), c.Request.UserAgent(), nil)

	response.Success(c, gin.H{"client_secret": secret})
}

// Delete removes a client and revokes its outstanding tokens.
// DELETE /api/admin/clients/:id
func (h *ClientHandler) Delete(c *gin.Context) {
	if err := h.clients.Delete(c.Param("id")); err != nil {
		if errors.Is(err, services.ErrClientNotFound) {
			response.NotFound(c, "client not found")
			return
		}
		if errors.Is(err, services.ErrClientFirstParty) {
			response.Error(c, response.NewConflict("first-party clients cannot be deleted"))
			return
		}
		response.ServerError(c, "failed to delete client")
		return
	}
	response.Success(c, nil)
}
