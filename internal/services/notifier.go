package services

import (
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
)

// JobNotifier publishes job lifecycle events to interested observers.
// Implementations must be non-blocking from the caller's perspective;
// a dropped event is acceptable, a stalled pipeline is not.
type JobNotifier interface {
	JobQueued(job *types.ProcessingJob)
	JobProgress(job *types.ProcessingJob, step jobs.Step, progress int, message string)
	JobCompleted(job *types.ProcessingJob)
	JobFailed(job *types.ProcessingJob, step jobs.Step, errorMessage string)
	JobCancelled(job *types.ProcessingJob)
	JobRetry(job *types.ProcessingJob, attempt int)
}

type nopNotifier struct{}

// NewNopJobNotifier returns a notifier that discards every event. Used when
// REDIS_ADDR is unset and in tests.
func NewNopJobNotifier() JobNotifier { return nopNotifier{} }

func (nopNotifier) JobQueued(*types.ProcessingJob)                              {}
func (nopNotifier) JobProgress(*types.ProcessingJob, jobs.Step, int, string)    {}
func (nopNotifier) JobCompleted(*types.ProcessingJob)                           {}
func (nopNotifier) JobFailed(*types.ProcessingJob, jobs.Step, string)           {}
func (nopNotifier) JobCancelled(*types.ProcessingJob)                           {}
func (nopNotifier) JobRetry(*types.ProcessingJob, int)                          {}
