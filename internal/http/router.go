package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/halcyonsky/astropipe-backend/internal/http/handlers"
	httpMW "github.com/halcyonsky/astropipe-backend/internal/http/middleware"
	"github.com/halcyonsky/astropipe-backend/internal/observability"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	HealthHandler    *httpH.HealthHandler
	JobHandler       *httpH.JobHandler
	CatalogHandler   *httpH.CatalogHandler
	AlgorithmHandler *httpH.AlgorithmHandler
	WorkflowHandler  *httpH.WorkflowHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(otelgin.Middleware("astropipe-backend"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())
	r.Use(httpMW.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Healthz)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		if cfg.JobHandler != nil {
			api.POST("/jobs", cfg.JobHandler.Submit)
			api.GET("/jobs", cfg.JobHandler.ListJobs)
			api.GET("/jobs/stats", cfg.JobHandler.QueueStats)
			api.GET("/jobs/long-running", cfg.JobHandler.LongRunning)
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.POST("/jobs/:id/retry", cfg.JobHandler.RetryJob)
		}

		if cfg.CatalogHandler != nil {
			api.POST("/catalog/cone-search", cfg.CatalogHandler.ConeSearch)
			api.POST("/catalog/cross-match", cfg.CatalogHandler.CrossMatch)
			api.GET("/catalog/nearest", cfg.CatalogHandler.Nearest)
			api.GET("/catalog/statistics", cfg.CatalogHandler.Statistics)
			api.GET("/catalog/high-proper-motion", cfg.CatalogHandler.HighProperMotion)
			api.GET("/catalog/nearby", cfg.CatalogHandler.Nearby)
			api.GET("/catalog/follow-up", cfg.CatalogHandler.FollowUp)
			api.GET("/catalog/objects/:object_id", cfg.CatalogHandler.GetObject)
			api.POST("/catalog/objects", cfg.CatalogHandler.SaveObject)
			api.POST("/catalog/objects/bulk", cfg.CatalogHandler.BulkImport)
			api.POST("/catalog/cleanup-transients", cfg.CatalogHandler.CleanupTransients)
		}

		if cfg.AlgorithmHandler != nil {
			api.GET("/algorithms", cfg.AlgorithmHandler.Summary)
			api.GET("/algorithms/:step", cfg.AlgorithmHandler.ForStep)
		}

		if cfg.WorkflowHandler != nil {
			api.POST("/workflows", cfg.WorkflowHandler.Create)
			api.GET("/workflows", cfg.WorkflowHandler.List)
			api.GET("/workflows/resolve", cfg.WorkflowHandler.Resolve)
			api.PATCH("/workflows/:id/active", cfg.WorkflowHandler.SetActive)
		}
	}

	return r
}
