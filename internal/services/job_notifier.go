package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// JobEvent is the wire shape published on the redis job channel. Consumers
// (dashboards, the session SSE fanout) key on Event and SessionID.
type JobEvent struct {
	Event     string               `json:"event"`
	JobID     uuid.UUID            `json:"job_id"`
	SessionID string               `json:"session_id,omitempty"`
	Status    jobs.Status          `json:"status"`
	Step      jobs.Step            `json:"step,omitempty"`
	Progress  int                  `json:"progress,omitempty"`
	Message   string               `json:"message,omitempty"`
	Error     string               `json:"error,omitempty"`
	Attempt   int                  `json:"attempt,omitempty"`
	Job       *types.ProcessingJob `json:"job,omitempty"`
	At        time.Time            `json:"at"`
}

const (
	JobEventQueued    = "job_queued"
	JobEventProgress  = "job_progress"
	JobEventCompleted = "job_completed"
	JobEventFailed    = "job_failed"
	JobEventCancelled = "job_cancelled"
	JobEventRetry     = "job_retry"
)

type redisJobNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisJobNotifier connects to REDIS_ADDR and publishes job events on
// REDIS_JOB_CHANNEL (default "astropipe:jobs").
func NewRedisJobNotifier(baseLog *logger.Logger) (JobNotifier, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_JOB_CHANNEL"))
	if ch == "" {
		ch = "astropipe:jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisJobNotifier{
		log:     baseLog.With("service", "RedisJobNotifier"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (n *redisJobNotifier) publish(ev JobEvent) {
	if n == nil || n.rdb == nil {
		return
	}
	ev.At = time.Now().UTC()
	raw, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("Job event marshal failed", "event", ev.Event, "job_id", ev.JobID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("Job event publish failed", "event", ev.Event, "job_id", ev.JobID, "error", err)
	}
}

func (n *redisJobNotifier) JobQueued(job *types.ProcessingJob) {
	if job == nil {
		return
	}
	n.publish(JobEvent{
		Event:     JobEventQueued,
		JobID:     job.JobID,
		SessionID: job.SessionID,
		Status:    job.Status,
		Job:       job,
	})
}

func (n *redisJobNotifier) JobProgress(job *types.ProcessingJob, step jobs.Step, progress int, message string) {
	if job == nil {
		return
	}
	n.publish(JobEvent{
		Event:     JobEventProgress,
		JobID:     job.JobID,
		SessionID: job.SessionID,
		Status:    job.Status,
		Step:      step,
		Progress:  progress,
		Message:   message,
	})
}

func (n *redisJobNotifier) JobCompleted(job *types.ProcessingJob) {
	if job == nil {
		return
	}
	n.publish(JobEvent{
		Event:     JobEventCompleted,
		JobID:     job.JobID,
		SessionID: job.SessionID,
		Status:    job.Status,
		Job:       job,
	})
}

func (n *redisJobNotifier) JobFailed(job *types.ProcessingJob, step jobs.Step, errorMessage string) {
	if job == nil {
		return
	}
	n.publish(JobEvent{
		Event:     JobEventFailed,
		JobID:     job.JobID,
		SessionID: job.SessionID,
		Status:    job.Status,
		Step:      step,
		Error:     errorMessage,
	})
}

func (n *redisJobNotifier) JobCancelled(job *types.ProcessingJob) {
	if job == nil {
		return
	}
	n.publish(JobEvent{
		Event:     JobEventCancelled,
		JobID:     job.JobID,
		SessionID: job.SessionID,
		Status:    job.Status,
	})
}

func (n *redisJobNotifier) JobRetry(job *types.ProcessingJob, attempt int) {
	if job == nil {
		return
	}
	n.publish(JobEvent{
		Event:     JobEventRetry,
		JobID:     job.JobID,
		SessionID: job.SessionID,
		Status:    job.Status,
		Attempt:   attempt,
	})
}
