package app

import (
	"gorm.io/gorm"

	httpH "github.com/halcyonsky/astropipe-backend/internal/http/handlers"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Job       *httpH.JobHandler
	Catalog   *httpH.CatalogHandler
	Algorithm *httpH.AlgorithmHandler
	Workflow  *httpH.WorkflowHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(db),
		Job:       httpH.NewJobHandler(serviceset.Jobs),
		Catalog:   httpH.NewCatalogHandler(serviceset.Catalog),
		Algorithm: httpH.NewAlgorithmHandler(serviceset.Algorithms),
		Workflow:  httpH.NewWorkflowHandler(serviceset.Workflows),
	}
}
