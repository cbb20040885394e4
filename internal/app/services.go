package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/calib"
	"github.com/halcyonsky/astropipe-backend/internal/ingest"
	"github.com/halcyonsky/astropipe-backend/internal/jobs/pipeline"
	"github.com/halcyonsky/astropipe-backend/internal/jobs/pool"
	jobruntime "github.com/halcyonsky/astropipe-backend/internal/jobs/runtime"
	"github.com/halcyonsky/astropipe-backend/internal/jobs/worker"
	"github.com/halcyonsky/astropipe-backend/internal/observability"
	"github.com/halcyonsky/astropipe-backend/internal/pipeline/artifacts"
	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/platform/objectstore"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

type Services struct {
	Catalog   services.CatalogService
	Contexts  services.ContextService
	Workflows services.WorkflowService
	Jobs      services.JobService
	Notifier  services.JobNotifier

	Store      objectstore.Store
	Artifacts  *artifacts.Store
	Algorithms *calib.Registry
	Metrics    *observability.Metrics

	Registry  *jobruntime.Registry
	JobWorker *worker.Worker

	BatchPool *pool.Pool
	Scanner   *ingest.Scanner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	metrics := observability.Init(log)

	store, err := objectstore.NewGCSStore(context.Background(), log)
	if err != nil {
		log.Warn("GCS unavailable, using in-memory object store", "error", err)
		store = objectstore.NewMemoryStore()
	}
	artifactStore := artifacts.NewStore(store, envutil.Str("INTERMEDIATE_BUCKET", "intermediates"), log)

	notifier, err := services.NewRedisJobNotifier(log)
	if err != nil {
		log.Warn("Redis notifier unavailable, job events disabled", "error", err)
		notifier = services.NewNopJobNotifier()
	}

	workflowSvc := services.NewWorkflowService(db, log, reposet.Workflows)
	contextSvc := services.NewContextService(log, workflowSvc)
	catalogSvc := services.NewCatalogService(db, log, reposet.Objects, reposet.Detections)
	jobSvc := services.NewJobService(db, log, reposet.Jobs, notifier)

	algorithms := calib.NewRegistry()

	registry := jobruntime.NewRegistry()
	if err := pipeline.RegisterAll(registry, store, artifactStore, algorithms, contextSvc, catalogSvc, log); err != nil {
		return Services{}, fmt.Errorf("register pipeline handlers: %w", err)
	}

	jobWorker := worker.NewWorker(db, log, reposet.Jobs, registry, notifier, metrics)

	batchPool := pool.New("batch", cfg.BatchWorkers, cfg.BatchQueueCap, log)

	var scanner *ingest.Scanner
	if cfg.IngestEnabled {
		scanner = ingest.NewScanner(store, jobSvc, contextSvc, ingest.NewDedupe(log), batchPool, log)
	}

	return Services{
		Catalog:    catalogSvc,
		Contexts:   contextSvc,
		Workflows:  workflowSvc,
		Jobs:       jobSvc,
		Notifier:   notifier,
		Store:      store,
		Artifacts:  artifactStore,
		Algorithms: algorithms,
		Metrics:    metrics,
		Registry:   registry,
		JobWorker:  jobWorker,
		BatchPool:  batchPool,
		Scanner:    scanner,
	}, nil
}
