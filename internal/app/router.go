package app

import (
	"github.com/gin-gonic/gin"

	apihttp "github.com/halcyonsky/astropipe-backend/internal/http"
	"github.com/halcyonsky/astropipe-backend/internal/observability"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, metrics *observability.Metrics, handlerset Handlers) *gin.Engine {
	return apihttp.NewRouter(apihttp.RouterConfig{
		Log:              log,
		Metrics:          metrics,
		HealthHandler:    handlerset.Health,
		JobHandler:       handlerset.Job,
		CatalogHandler:   handlerset.Catalog,
		AlgorithmHandler: handlerset.Algorithm,
		WorkflowHandler:  handlerset.Workflow,
	})
}
