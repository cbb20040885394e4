package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/http/response"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobSvc services.JobService) *JobHandler {
	return &JobHandler{jobs: jobSvc}
}

func dbc(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

// POST /api/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var in services.SubmitJobInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_request", err)
		return
	}
	job, err := h.jobs.Submit(dbc(c), in)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "submit_job_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Get(dbc(c), jobID)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	f := repos.JobListFilter{
		Status:         jobs.Status(c.Query("status")),
		ProcessingType: jobs.ProcessingType(c.Query("processing_type")),
		OwnerID:        c.Query("owner_id"),
		SessionID:      c.Query("session_id"),
		Limit:          intQuery(c, "limit", 50),
		Offset:         intQuery(c, "offset", 0),
	}
	rows, total, err := h.jobs.List(dbc(c), f)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": rows, "total": total})
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Cancel(dbc(c), jobID)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.RetryFailed(dbc(c), jobID)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "retry_job_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/jobs/stats
func (h *JobHandler) QueueStats(c *gin.Context) {
	stats, err := h.jobs.QueueStats(dbc(c))
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "queue_stats_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"counts_by_status": stats})
}

// GET /api/jobs/long-running
func (h *JobHandler) LongRunning(c *gin.Context) {
	mins := intQuery(c, "threshold_minutes", 30)
	rows, err := h.jobs.FindLongRunning(dbc(c), time.Duration(mins)*time.Minute)
	if err != nil {
		response.RespondError(c, response.StatusOf(err), "long_running_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": rows})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func floatQuery(c *gin.Context, name string, def float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
