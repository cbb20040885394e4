package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/catalog"
	"github.com/halcyonsky/astropipe-backend/internal/http/response"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

type CatalogHandler struct {
	catalog services.CatalogService
}

func NewCatalogHandler(catalogSvc services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalogSvc}
}

// POST /api/catalog/cone-search
func (h *CatalogHandler) ConeSearch(c *gin.Context) {
	var req services.ConeSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_cone_search", err)
		return
	}
	res, err := h.catalog.ConeSearch(dbc(c), req)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "cone_search_failed", err)
		return
	}
	response.RespondOK(c, res)
}

type crossMatchRequest struct {
	Positions []services.CrossMatchPosition `json:"positions"`
	MaxArcsec float64                       `json:"max_arcsec"`
}

// POST /api/catalog/cross-match
func (h *CatalogHandler) CrossMatch(c *gin.Context) {
	var req crossMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_cross_match", err)
		return
	}
	matches, err := h.catalog.CrossMatch(dbc(c), req.Positions, req.MaxArcsec)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "cross_match_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"matches": matches, "total": len(matches)})
}

// GET /api/catalog/nearest
func (h *CatalogHandler) Nearest(c *gin.Context) {
	ra := floatQuery(c, "ra", -1)
	dec := floatQuery(c, "dec", -999)
	if ra < 0 || dec < -90 {
		response.RespondError(c, http.StatusBadRequest, "invalid_position",
			apperr.E(apperr.KindValidation, "ra and dec query parameters are required", nil))
		return
	}
	maxArcsec := floatQuery(c, "max_arcsec", 60)

	var objectType *catalog.ObjectType
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		ot := catalog.ObjectType(strings.ToUpper(raw))
		if !ot.IsValid() {
			response.RespondError(c, http.StatusBadRequest, "invalid_object_type",
				apperr.Ef(apperr.KindValidation, nil, "unknown object type %q", raw))
			return
		}
		objectType = &ot
	}

	match, err := h.catalog.FindNearest(dbc(c), ra, dec, objectType, maxArcsec)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "nearest_failed", err)
		return
	}
	response.RespondOK(c, match)
}

// GET /api/catalog/statistics
func (h *CatalogHandler) Statistics(c *gin.Context) {
	days := intQuery(c, "recent_days", 30)
	stats, err := h.catalog.Statistics(dbc(c), time.Duration(days)*24*time.Hour)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "statistics_failed", err)
		return
	}
	response.RespondOK(c, stats)
}

// GET /api/catalog/high-proper-motion
func (h *CatalogHandler) HighProperMotion(c *gin.Context) {
	min := floatQuery(c, "min_mas_per_year", 100)
	rows, err := h.catalog.FindHighProperMotion(dbc(c), min)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "high_proper_motion_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"objects": rows, "total": len(rows)})
}

// GET /api/catalog/nearby
func (h *CatalogHandler) Nearby(c *gin.Context) {
	maxPc := floatQuery(c, "max_distance_pc", 10)
	rows, err := h.catalog.FindNearby(dbc(c), maxPc)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "nearby_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"objects": rows, "total": len(rows)})
}

// GET /api/catalog/follow-up
func (h *CatalogHandler) FollowUp(c *gin.Context) {
	days := intQuery(c, "not_seen_days", 365)
	rows, err := h.catalog.FindObjectsNeedingFollowUp(dbc(c), time.Duration(days)*24*time.Hour)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "follow_up_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"objects": rows, "total": len(rows)})
}

// GET /api/catalog/objects/:object_id
func (h *CatalogHandler) GetObject(c *gin.Context) {
	obj, err := h.catalog.GetByObjectID(dbc(c), c.Param("object_id"))
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "object_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"object": obj})
}

// POST /api/catalog/objects
func (h *CatalogHandler) SaveObject(c *gin.Context) {
	var obj types.AstronomicalObject
	if err := c.ShouldBindJSON(&obj); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_object", err)
		return
	}
	if err := h.catalog.SaveObject(dbc(c), &obj); err != nil {
		response.RespondError(c, response.StatusOf(err), "save_object_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"object": obj})
}

type bulkImportRequest struct {
	Objects []*types.AstronomicalObject `json:"objects"`
}

// POST /api/catalog/objects/bulk
func (h *CatalogHandler) BulkImport(c *gin.Context) {
	var req bulkImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_bulk_import", err)
		return
	}
	imported, err := h.catalog.BulkImport(dbc(c), req.Objects)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "bulk_import_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"imported": imported, "requested": len(req.Objects)})
}

// POST /api/catalog/cleanup-transients
func (h *CatalogHandler) CleanupTransients(c *gin.Context) {
	days := intQuery(c, "older_than_days", 30)
	cleaned, err := h.catalog.CleanupTransients(dbc(c), days)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "cleanup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"categories_cleaned": cleaned})
}
