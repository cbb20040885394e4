package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/halcyonsky/astropipe-backend/internal/calib"
	"github.com/halcyonsky/astropipe-backend/internal/http/response"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

type AlgorithmHandler struct {
	registry *calib.Registry
}

func NewAlgorithmHandler(registry *calib.Registry) *AlgorithmHandler {
	return &AlgorithmHandler{registry: registry}
}

// GET /api/algorithms
func (h *AlgorithmHandler) Summary(c *gin.Context) {
	response.RespondOK(c, gin.H{"steps": h.registry.Summary()})
}

// GET /api/algorithms/:step
func (h *AlgorithmHandler) ForStep(c *gin.Context) {
	step := calib.NormalizeStepType(c.Param("step"))
	infos := h.registry.List(step)
	if len(infos) == 0 {
		response.RespondError(c, http.StatusNotFound, "unknown_step",
			apperr.Ef(apperr.KindNotFound, nil, "no algorithms registered for step %q", step))
		return
	}
	response.RespondOK(c, gin.H{"step": step, "algorithms": infos})
}
