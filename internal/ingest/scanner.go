package ingest

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/jobs/pool"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/platform/objectstore"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

// Scanner polls the raw bucket prefix and submits one FULL_CALIBRATION job
// per newly landed FITS frame. Submissions run on the batch pool; the scan
// loop itself never blocks on the database.
type Scanner struct {
	store    objectstore.Store
	jobs     services.JobService
	contexts services.ContextService
	dedupe   Dedupe
	pool     *pool.Pool
	log      *logger.Logger

	bucket   string
	prefix   string
	interval time.Duration
}

func NewScanner(store objectstore.Store, jobSvc services.JobService, contexts services.ContextService, dedupe Dedupe, batchPool *pool.Pool, baseLog *logger.Logger) *Scanner {
	return &Scanner{
		store:    store,
		jobs:     jobSvc,
		contexts: contexts,
		dedupe:   dedupe,
		pool:     batchPool,
		log:      baseLog.With("component", "IngestScanner"),
		bucket:   envutil.Str("RAW_BUCKET", "raw"),
		prefix:   envutil.Str("RAW_PREFIX", "incoming/"),
		interval: time.Duration(envutil.Int("INGEST_SCAN_INTERVAL_SECONDS", 30)) * time.Second,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	s.log.Info("Starting ingest scanner",
		"bucket", s.bucket, "prefix", s.prefix, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Ingest scanner stopped")
			return
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				s.log.Warn("Scan failed", "error", err)
			}
		}
	}
}

// ScanOnce lists the prefix and submits every unseen FITS key. Returns how
// many submissions were dispatched.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	keys, err := s.store.List(ctx, s.bucket, s.prefix)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, key := range keys {
		if !strings.HasSuffix(strings.ToLower(key), ".fits") {
			continue
		}
		if !s.dedupe.FirstSeen(ctx, s.bucket+"/"+key) {
			continue
		}
		k := key
		submitted++
		s.pool.Submit(func() { s.submit(ctx, k) })
	}
	return submitted, nil
}

func (s *Scanner) submit(ctx context.Context, key string) {
	dbc := dbctx.Context{Ctx: ctx}

	observationID := strings.TrimSuffix(path.Base(key), path.Ext(key))
	pc, err := s.contexts.CreateProductionContext(dbc, "", observationID,
		envutil.Str("DEFAULT_INSTRUMENT_ID", "UNASSIGNED"), "", "")
	if err != nil {
		s.log.Error("Production context creation failed", "key", key, "error", err)
		return
	}

	job, err := s.jobs.Submit(dbc, services.SubmitJobInput{
		InputBucket:    s.bucket,
		InputKey:       key,
		ProcessingType: jobs.ProcessingFullCalibration,
		Priority:       pc.Priority,
		SessionID:      pc.SessionID,
		ProcessingID:   pc.ProcessingID,
		Metadata:       map[string]any{"source": "ingest-scanner"},
	})
	if err != nil {
		s.log.Error("Job submission failed", "key", key, "error", err)
		return
	}
	s.log.Info("Raw frame submitted", "key", key, "job_id", job.JobID, "processing_id", pc.ProcessingID)
}
