package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/response"
)

// EventHandler exposes the security event log to operators.
type EventHandler struct {
	events *services.EventService
}

func NewEventHandler(events *services.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// List returns events with filters and paging.
// GET /api/admin/events
func (h *EventHandler) List(c *gin.Context) {
	var req services.EventListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.events.List(&req)
	if err != nil {
		response.ServerError(c, "failed to list events")
		return
	}
	response.Success(c, result)
}

// Modules returns the distinct module names seen in the log, for filter
// dropdowns.
// GET /api/admin/events/modules
func (h *EventHandler) Modules(c *gin.Context) {
	modules, err := h.events.GetModules()
	if err != nil {
		response.ServerError(c, "failed to load modules")
		return
	}
	response.Success(c, modules)
}
