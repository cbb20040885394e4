package worker

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/jobs/runtime"
	"github.com/halcyonsky/astropipe-backend/internal/observability"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

// Worker polls the job table and runs claimed jobs through the handler
// registry. Each claimed job runs on one goroutine from claim to terminal
// state; steps inside the job stay sequential.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.ProcessingJobRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	metrics  *observability.Metrics

	pollInterval      time.Duration
	staleRunning      time.Duration
	heartbeatInterval time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.ProcessingJobRepo, registry *runtime.Registry, notify services.JobNotifier, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:                db,
		log:               baseLog.With("component", "JobWorker"),
		repo:              repo,
		registry:          registry,
		notify:            notify,
		metrics:           metrics,
		pollInterval:      1 * time.Second,
		staleRunning:      time.Duration(envutil.Int("WORKER_STALE_RUNNING_MINUTES", 30)) * time.Minute,
		heartbeatInterval: 15 * time.Second,
	}
}

// Start launches the claim loops. They run until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.runOne(ctx, workerID, job)
		}
	}
}

// RunOnce claims and runs at most one job. Used by tests and by one-shot
// maintenance invocations; returns false when nothing was runnable.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.staleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.runOne(ctx, 0, job)
	return true, nil
}

func (w *Worker) runOne(ctx context.Context, workerID int, job *types.ProcessingJob) {
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify, w.metrics, w.log)
	jc.RetryBase = time.Duration(envutil.Int("RETRY_BACKOFF_BASE_SECONDS", 30)) * time.Second

	h, ok := w.registry.Get(job.ProcessingType)
	if !ok {
		w.log.Warn("No handler registered for processing_type",
			"worker_id", workerID,
			"processing_type", job.ProcessingType,
			"job_id", job.JobID,
		)
		jc.FailOrRetry("dispatch", apperr.Ef(apperr.KindAlgorithmUnsupported, nil,
			"no handler registered for processing_type=%s", job.ProcessingType))
		return
	}

	w.metrics.ActiveJobsInc()
	defer w.metrics.ActiveJobsDec()

	hbStop := make(chan struct{})
	go w.keepAlive(jc, hbStop)
	defer close(hbStop)

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic",
					"worker_id", workerID,
					"job_id", job.JobID,
					"processing_type", job.ProcessingType,
					"panic", r,
				)
				jc.FailOrRetry("panic", apperr.Ef(apperr.KindTransientBackend, nil, "handler panic: %v", r))
			}
		}()

		if runErr := h.Run(jc); runErr != nil {
			// Handlers normally settle the job themselves; this is a safety net.
			jc.FailOrRetry("run", runErr)
		}
	}()
}

// keepAlive refreshes the heartbeat while a job runs so the stale-claim
// query never reassigns it to another worker.
func (w *Worker) keepAlive(jc *runtime.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			jc.Heartbeat()
		}
	}
}
