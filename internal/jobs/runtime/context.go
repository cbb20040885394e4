package runtime

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/observability"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

// Context is the execution handle for one claimed job. It owns the only
// sanctioned paths for progress, step commits, and terminal transitions, all
// guarded so an externally cancelled job is never overwritten. Handlers
// never write the job row directly.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.ProcessingJob
	Repo    repos.ProcessingJobRepo
	Notify  services.JobNotifier
	Metrics *observability.Metrics
	Log     *logger.Logger

	// RetryBase and RetryCap bound the exponential backoff between
	// attempts. Zero values fall back to 30s and 10m.
	RetryBase time.Duration
	RetryCap  time.Duration
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.ProcessingJob, repo repos.ProcessingJobRepo, notify services.JobNotifier, metrics *observability.Metrics, baseLog *logger.Logger) *Context {
	if notify == nil {
		notify = services.NewNopJobNotifier()
	}
	return &Context{
		Ctx:     ctx,
		DB:      db,
		Job:     job,
		Repo:    repo,
		Notify:  notify,
		Metrics: metrics,
		Log:     baseLog.With("component", "JobRuntime", "job_id", job.JobID),
	}
}

func (c *Context) dbc() dbctx.Context {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return dbctx.Context{Ctx: ctx}
}

var cancelledOnly = []jobs.Status{jobs.StatusCancelled}

// Progress records a non-terminal heartbeat with a human message. A false
// return means the job was cancelled underneath us; the handler must stop
// at the next step boundary.
func (c *Context) Progress(step jobs.Step, pct int, msg string) bool {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return false
	}
	now := time.Now().UTC()
	ok, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, cancelledOnly, map[string]interface{}{
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		c.Log.Warn("Progress update failed", "step", step, "error", err)
		return true
	}
	if !ok {
		return false
	}
	c.Job.HeartbeatAt = &now
	c.Notify.JobProgress(c.Job, step, pct, msg)
	return true
}

// Cancelled reloads the job status. Checked at step boundaries only;
// in-flight step work is never interrupted mid-algorithm.
func (c *Context) Cancelled() bool {
	if c == nil || c.Job == nil {
		return false
	}
	fresh, err := c.Repo.GetByJobID(c.dbc(), c.Job.JobID)
	if err != nil || fresh == nil {
		return false
	}
	if fresh.Status == jobs.StatusCancelled {
		c.Job.Status = jobs.StatusCancelled
		return true
	}
	return false
}

// CommitStep durably appends a completed step. The append is idempotent,
// so a step replayed after a crash commits exactly once.
func (c *Context) CommitStep(step jobs.Step, seq int, artifactPath string, dur time.Duration) error {
	if c == nil || c.Job == nil {
		return nil
	}
	row := &types.ProcessingJobStep{
		JobRowID:     c.Job.ID,
		StepName:     step,
		Seq:          seq,
		ArtifactPath: artifactPath,
		DurationMs:   dur.Milliseconds(),
		CompletedAt:  time.Now().UTC(),
	}
	if err := c.Repo.AppendCompletedStep(c.dbc(), c.Job.ID, row); err != nil {
		return apperr.E(apperr.KindStore, "commit completed step", err)
	}
	c.Job.CompletedSteps = append(c.Job.CompletedSteps, *row)
	c.Metrics.RecordStep(string(step), "completed", dur)
	return nil
}

// SetMetadata merges extracted metadata onto the job row. Existing keys are
// overwritten; unrelated keys survive.
func (c *Context) SetMetadata(md map[string]any) error {
	if c == nil || c.Job == nil || len(md) == 0 {
		return nil
	}
	merged := map[string]any{}
	if len(c.Job.Metadata) > 0 {
		if err := json.Unmarshal(c.Job.Metadata, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range md {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return apperr.E(apperr.KindValidation, "marshal job metadata", err)
	}
	_, err = c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, cancelledOnly, map[string]interface{}{
		"metadata": datatypes.JSON(raw),
	})
	if err != nil {
		return apperr.E(apperr.KindStore, "persist job metadata", err)
	}
	c.Job.Metadata = datatypes.JSON(raw)
	return nil
}

// FailOrRetry applies the retry policy for a step failure. Non-retryable
// kinds fail immediately. Retryable failures increment retry_count; below
// max_retries the job re-enters the queue as RETRY with exponential backoff,
// otherwise it fails terminally. Returns true when a retry was scheduled.
func (c *Context) FailOrRetry(step jobs.Step, cause error) bool {
	if c == nil || c.Job == nil {
		return false
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	c.Metrics.RecordStep(string(step), "failed", 0)

	if !apperr.KindOf(cause).Retryable() {
		c.fail(step, msg)
		return false
	}

	attempt := c.Job.RetryCount + 1
	if attempt >= c.Job.MaxRetries {
		c.fail(step, msg)
		return false
	}

	now := time.Now().UTC()
	nextAttempt := now.Add(c.backoff(attempt))
	ok, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, cancelledOnly, map[string]interface{}{
		"status":          jobs.StatusRetry,
		"retry_count":     attempt,
		"error_message":   msg,
		"last_error_at":   now,
		"next_attempt_at": nextAttempt,
		"locked_at":       nil,
		"heartbeat_at":    nil,
		"updated_at":      now,
	})
	if err != nil {
		c.Log.Error("Retry transition failed", "step", step, "error", err)
		return false
	}
	if !ok {
		return false
	}

	c.Job.Status = jobs.StatusRetry
	c.Job.RetryCount = attempt
	c.Job.ErrorMessage = msg
	c.Job.NextAttemptAt = &nextAttempt
	c.Log.Warn("Step failed; retry scheduled",
		"step", step, "attempt", attempt, "max_retries", c.Job.MaxRetries,
		"next_attempt_at", nextAttempt, "error", msg)
	c.Notify.JobRetry(c.Job, attempt)
	return true
}

func (c *Context) fail(step jobs.Step, msg string) {
	now := time.Now().UTC()
	stack := strings.TrimSpace(string(debug.Stack()))
	ok, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, cancelledOnly, map[string]interface{}{
		"status":        jobs.StatusFailed,
		"retry_count":   c.Job.RetryCount + 1,
		"error_message": msg,
		"stack_trace":   stack,
		"last_error_at": now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
		"updated_at":    now,
	})
	if err != nil {
		c.Log.Error("Fail transition failed", "step", step, "error", err)
		return
	}
	if !ok {
		return
	}
	c.Job.Status = jobs.StatusFailed
	c.Job.RetryCount++
	c.Job.ErrorMessage = msg
	c.Log.Error("Job failed", "step", step, "error", msg)
	c.Notify.JobFailed(c.Job, step, msg)
}

// Succeed transitions the job to COMPLETED, stamping completion time and
// total processing duration of the final attempt.
func (c *Context) Succeed(outputBucket, outputKey string) {
	if c == nil || c.Job == nil {
		return
	}
	now := time.Now().UTC()
	var durMs int64
	if c.Job.StartedAt != nil {
		durMs = now.Sub(*c.Job.StartedAt).Milliseconds()
	}
	updates := map[string]interface{}{
		"status":                 jobs.StatusCompleted,
		"completed_at":           now,
		"processing_duration_ms": durMs,
		"error_message":          "",
		"stack_trace":            "",
		"locked_at":              nil,
		"heartbeat_at":           nil,
		"updated_at":             now,
	}
	if outputBucket != "" {
		updates["output_bucket"] = outputBucket
	}
	if outputKey != "" {
		updates["output_key"] = outputKey
	}
	ok, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, cancelledOnly, updates)
	if err != nil {
		c.Log.Error("Completion transition failed", "error", err)
		return
	}
	if !ok {
		return
	}
	c.Job.Status = jobs.StatusCompleted
	c.Job.CompletedAt = &now
	c.Job.ProcessingDurationMs = &durMs
	if outputBucket != "" {
		c.Job.OutputBucket = outputBucket
	}
	if outputKey != "" {
		c.Job.OutputKey = outputKey
	}
	c.Log.Info("Job completed", "duration_ms", durMs, "output", outputBucket+"/"+outputKey)
	c.Notify.JobCompleted(c.Job)
}

// Heartbeat refreshes the liveness stamp so the stale-claim reclaim never
// steals an actively running job.
func (c *Context) Heartbeat() {
	if c == nil || c.Job == nil {
		return
	}
	if err := c.Repo.Heartbeat(c.dbc(), c.Job.ID); err != nil {
		c.Log.Warn("Heartbeat failed", "error", err)
	}
}

func (c *Context) backoff(attempt int) time.Duration {
	base := c.RetryBase
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := c.RetryCap
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
