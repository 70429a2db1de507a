package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/middleware"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// UserHandler covers admin user management plus the self-service password
// change.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// List returns users with paging and search.
// GET /api/admin/users
func (h *UserHandler) List(c *gin.Context) {
	var req services.UserListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.users.List(&req)
	if err != nil {
		response.ServerError(c, "failed to list users")
		return
	}
	response.Success(c, result)
}

// Get returns one user.
// GET /api/admin/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	id, err := parseUserID(c)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	user, err := h.users.Get(id)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.ServerError(c, "failed to load user")
		return
	}
	response.Success(c, user)
}

// Create adds a user account.
// POST /api/admin/users
func (h *UserHandler) Create(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.Create(&req)
	if err != nil {
		if errors.Is(err, services.ErrUserExists) {
			response.Error(c, response.NewConflict("username already exists"))
			return
		}
		response.ServerError(c, "failed to create user")
		return
	}
	response.Created(c, user)
}

// Update modifies a user. Disabling revokes their refresh tokens.
// PUT /api/admin/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, err := parseUserID(c)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	var req services.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.Update(id, &req)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.ServerError(c, "failed to update user")
		return
	}
	response.Success(c, user)
}

// Delete removes a user and revokes their tokens.
// DELETE /api/admin/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, err := parseUserID(c)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	if err := h.users.Delete(id); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.ServerError(c, "failed to delete user")
		return
	}
	response.Success(c, nil)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword updates the caller's own password and logs them out
// everywhere.
// POST /api/users/change-password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err := h.users.ChangePassword(middleware.GetUserID(c), req.OldPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			response.Unauthorized(c, "current password is incorrect")
			return
		}
		response.ServerError(c, "failed to change password")
		return
	}
	response.Success(c, nil)
}

func parseUserID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
