package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	jobtypes "github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// Size category thresholds for processed frames.
const (
	smallFileBytes  = 1 << 20   // 1 MiB
	mediumFileBytes = 100 << 20 // 100 MiB
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	processingSuccess      *CounterVec
	processingErrors       *CounterVec
	processingByType       *CounterVec
	processingByInstrument *CounterVec
	cosmicRayDetections    *Counter
	calibrationSteps       *Counter
	stepOperations         *CounterVec

	ioOperations     *CounterVec
	ioBytes          *CounterVec
	fileSizeCategory *CounterVec

	imageQualityCategory *CounterVec
	imageQualityScore    *HistogramVec

	processingDuration *HistogramVec
	ioDuration         *HistogramVec
	stepDuration       *HistogramVec

	activeJobs *Gauge
	queueDepth *GaugeVec
	pgStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

// New builds an unshared instance; Init wires the process-wide one.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("ap_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"ap_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("ap_api_inflight_requests", "In-flight API requests."),

		processingSuccess: NewCounterVec("ap_processing_success_total", "Completed calibration jobs by processing type.", []string{"processing_type"}),
		processingErrors:  NewCounterVec("ap_processing_errors_total", "Failed calibration jobs by processing type and error kind.", []string{"processing_type", "error_kind"}),
		processingByType:  NewCounterVec("ap_processing_by_type_total", "Jobs started by processing type.", []string{"processing_type"}),
		processingByInstrument: NewCounterVec(
			"ap_processing_by_instrument_total",
			"Jobs processed by source instrument.",
			[]string{"instrument"},
		),
		cosmicRayDetections: NewCounter("ap_cosmic_ray_detection_total", "Cosmic ray hits removed across all frames."),
		calibrationSteps:    NewCounter("ap_calibration_steps_total", "Calibration steps executed (all steps, all jobs)."),
		stepOperations: NewCounterVec(
			"ap_step_operations_total",
			"Pipeline step executions by step and status.",
			[]string{"step", "status"},
		),

		ioOperations: NewCounterVec("ap_io_operations_total", "Object storage operations by direction and status.", []string{"direction", "status"}),
		ioBytes:      NewCounterVec("ap_io_bytes_total", "Bytes moved through object storage by direction.", []string{"direction"}),
		fileSizeCategory: NewCounterVec(
			"ap_file_size_category_total",
			"Processed input frames bucketed by size category.",
			[]string{"category"},
		),

		imageQualityCategory: NewCounterVec(
			"ap_image_quality_category_total",
			"Quality assessment outcomes bucketed by category.",
			[]string{"category"},
		),
		imageQualityScore: NewHistogramVec(
			"ap_image_quality_score",
			"Quality assessment score distribution (0-100).",
			[]string{},
			[]float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		),

		processingDuration: NewHistogramVec(
			"ap_processing_duration_seconds",
			"End-to-end job duration in seconds by processing type and status.",
			[]string{"processing_type", "status"},
			[]float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		),
		ioDuration: NewHistogramVec(
			"ap_io_duration_seconds",
			"Object storage transfer duration in seconds by direction.",
			[]string{"direction"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		stepDuration: NewHistogramVec(
			"ap_step_duration_seconds",
			"Pipeline step duration in seconds by step and status.",
			[]string{"step", "status"},
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		),

		activeJobs: NewGauge("ap_active_jobs", "Jobs currently executing in this process."),
		queueDepth: NewGaugeVec("ap_job_queue_depth", "Processing job queue depth by status.", []string{"status"}),
		pgStats:    NewGaugeVec("ap_postgres_stats", "Postgres connection stats.", []string{"metric"}),
		redisUp:    NewGauge("ap_redis_up", "Redis connectivity (1=up, 0=down)."),
		redisPing:  NewGauge("ap_redis_ping_seconds", "Redis ping latency in seconds."),
	}
}

// FileSizeCategory buckets an input frame size.
func FileSizeCategory(bytes int64) string {
	switch {
	case bytes < smallFileBytes:
		return "small"
	case bytes < mediumFileBytes:
		return "medium"
	default:
		return "large"
	}
}

// ImageQualityCategory buckets a 0-100 quality score.
func ImageQualityCategory(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) RecordJobStarted(processingType, instrument string, inputSizeBytes int64) {
	if m == nil {
		return
	}
	if processingType == "" {
		processingType = "unknown"
	}
	m.processingByType.Inc(processingType)
	if instrument != "" {
		m.processingByInstrument.Inc(strings.ToUpper(instrument))
	}
	if inputSizeBytes > 0 {
		m.fileSizeCategory.Inc(FileSizeCategory(inputSizeBytes))
	}
}

func (m *Metrics) RecordJobOutcome(processingType, status, errorKind string, dur time.Duration) {
	if m == nil {
		return
	}
	if processingType == "" {
		processingType = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	switch status {
	case "completed":
		m.processingSuccess.Inc(processingType)
	case "failed":
		if errorKind == "" {
			errorKind = "unknown"
		}
		m.processingErrors.Inc(processingType, errorKind)
	}
	if dur > 0 {
		m.processingDuration.Observe(dur.Seconds(), processingType, status)
	}
}

func (m *Metrics) RecordStep(step, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if step == "" {
		step = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.stepOperations.Inc(strings.ToLower(step), status)
	m.calibrationSteps.Inc()
	if dur > 0 {
		m.stepDuration.Observe(dur.Seconds(), strings.ToLower(step), status)
	}
}

func (m *Metrics) RecordCosmicRays(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cosmicRayDetections.Add(float64(count))
}

func (m *Metrics) RecordIO(direction, status string, bytes int64, dur time.Duration) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.ioOperations.Inc(direction, status)
	if bytes > 0 {
		m.ioBytes.Add(float64(bytes), direction)
	}
	if dur > 0 {
		m.ioDuration.Observe(dur.Seconds(), direction)
	}
}

func (m *Metrics) RecordImageQuality(score float64) {
	if m == nil {
		return
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	m.imageQualityCategory.Inc(ImageQualityCategory(score))
	m.imageQualityScore.Observe(score)
}

func (m *Metrics) ActiveJobsInc() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *Metrics) ActiveJobsDec() {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	series := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.processingSuccess, m.processingErrors, m.processingByType,
		m.processingByInstrument, m.cosmicRayDetections, m.calibrationSteps,
		m.stepOperations,
		m.ioOperations, m.ioBytes, m.fileSizeCategory,
		m.imageQualityCategory, m.imageQualityScore,
		m.processingDuration, m.ioDuration, m.stepDuration,
		m.activeJobs, m.queueDepth, m.pgStats, m.redisUp, m.redisPing,
	}
	for _, s := range series {
		if err := s.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []jobtypes.Status{
		jobtypes.StatusQueued, jobtypes.StatusRunning, jobtypes.StatusRetry,
		jobtypes.StatusCompleted, jobtypes.StatusFailed, jobtypes.StatusCancelled,
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.queueDepth.Set(0, string(s))
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.ProcessingJob{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					status := strings.TrimSpace(row.Status)
					if status == "" {
						status = "unknown"
					}
					m.queueDepth.Set(float64(row.Count), status)
				}
			}
		}
	}()
}
