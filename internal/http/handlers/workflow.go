package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/http/response"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

type WorkflowHandler struct {
	workflows services.WorkflowService
}

func NewWorkflowHandler(workflows services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// POST /api/workflows
func (h *WorkflowHandler) Create(c *gin.Context) {
	var wv types.WorkflowVersion
	if err := c.ShouldBindJSON(&wv); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_workflow", err)
		return
	}
	if err := h.workflows.Create(dbc(c), &wv); err != nil {
		response.RespondError(c, response.StatusOf(err), "create_workflow_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"workflow": wv})
}

// GET /api/workflows
func (h *WorkflowHandler) List(c *gin.Context) {
	rows, err := h.workflows.List(dbc(c), c.Query("processing_type"))
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "list_workflows_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"workflows": rows, "total": len(rows)})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// PATCH /api/workflows/:id/active
func (h *WorkflowHandler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_workflow_id", err)
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_active_request", err)
		return
	}
	if err := h.workflows.SetActive(dbc(c), id, req.Active); err != nil {
		response.RespondError(c, response.StatusOf(err), "set_active_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"id": id, "active": req.Active})
}

// GET /api/workflows/resolve
func (h *WorkflowHandler) Resolve(c *gin.Context) {
	wv, err := h.workflows.ResolveActive(dbc(c),
		c.Query("name"), c.Query("processing_type"), c.Query("session_id"))
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "resolve_workflow_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"workflow": wv})
}
