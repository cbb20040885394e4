package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/domain/processing"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// SubmitJobInput is the request shape for queueing a calibration job.
type SubmitJobInput struct {
	InputBucket    string              `json:"input_bucket"`
	InputKey       string              `json:"input_key"`
	OutputBucket   string              `json:"output_bucket,omitempty"`
	OutputKey      string              `json:"output_key,omitempty"`
	OwnerID        string              `json:"owner_id,omitempty"`
	ProcessingType jobs.ProcessingType `json:"processing_type,omitempty"`
	Priority       int                 `json:"priority,omitempty"`
	MaxRetries     int                 `json:"max_retries,omitempty"`
	SessionID      string              `json:"session_id,omitempty"`
	ProcessingID   string              `json:"processing_id,omitempty"`
	InputSizeBytes *int64              `json:"input_size_bytes,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
}

type JobService interface {
	Submit(dbc dbctx.Context, in SubmitJobInput) (*types.ProcessingJob, error)
	Get(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error)
	List(dbc dbctx.Context, f repos.JobListFilter) ([]*types.ProcessingJob, int64, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error)
	RetryFailed(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error)
	QueueStats(dbc dbctx.Context) (map[jobs.Status]int64, error)
	FindLongRunning(dbc dbctx.Context, threshold time.Duration) ([]*types.ProcessingJob, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.ProcessingJobRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.ProcessingJobRepo, notify JobNotifier) JobService {
	if notify == nil {
		notify = NewNopJobNotifier()
	}
	return &jobService{
		db:     db,
		log:    baseLog.With("service", "JobService"),
		repo:   repo,
		notify: notify,
	}
}

func (s *jobService) Submit(dbc dbctx.Context, in SubmitJobInput) (*types.ProcessingJob, error) {
	in.InputBucket = strings.TrimSpace(in.InputBucket)
	in.InputKey = strings.TrimSpace(in.InputKey)
	if in.InputBucket == "" || in.InputKey == "" {
		return nil, apperr.E(apperr.KindValidation, "input bucket and key are required", nil)
	}
	if in.ProcessingType == "" {
		in.ProcessingType = jobs.ProcessingFullCalibration
	}
	if in.Priority == 0 {
		in.Priority = 5
	}
	if in.Priority < 1 || in.Priority > 10 {
		return nil, apperr.Ef(apperr.KindValidation, nil, "priority %d outside [1,10]", in.Priority)
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = 3
	}
	if in.ProcessingID != "" && !processing.IsValidID(in.ProcessingID) {
		return nil, apperr.Ef(apperr.KindValidation, nil, "malformed processing id %q", in.ProcessingID)
	}

	var metadata datatypes.JSON
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, apperr.E(apperr.KindValidation, "unencodable job metadata", err)
		}
		metadata = datatypes.JSON(raw)
	}

	job := &types.ProcessingJob{
		JobID:          uuid.New(),
		InputBucket:    in.InputBucket,
		InputKey:       in.InputKey,
		OutputBucket:   strings.TrimSpace(in.OutputBucket),
		OutputKey:      strings.TrimSpace(in.OutputKey),
		OwnerID:        strings.TrimSpace(in.OwnerID),
		Status:         jobs.StatusQueued,
		ProcessingType: in.ProcessingType,
		Priority:       in.Priority,
		MaxRetries:     in.MaxRetries,
		SessionID:      strings.TrimSpace(in.SessionID),
		ProcessingID:   strings.TrimSpace(in.ProcessingID),
		InputSizeBytes: in.InputSizeBytes,
		Metadata:       metadata,
	}
	if job.SessionID == "" {
		job.SessionID = uuid.NewString()
	}

	if err := s.repo.Create(dbc, job); err != nil {
		return nil, apperr.E(apperr.KindStore, "create processing job", err)
	}

	s.log.Info("Job submitted",
		"job_id", job.JobID, "processing_type", job.ProcessingType,
		"priority", job.Priority, "input", job.InputBucket+"/"+job.InputKey)
	s.notify.JobQueued(job)
	return job, nil
}

func (s *jobService) Get(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error) {
	if jobID == uuid.Nil {
		return nil, apperr.E(apperr.KindValidation, "missing job id", nil)
	}
	job, err := s.repo.GetByJobID(dbc, jobID)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "load processing job", err)
	}
	if job == nil {
		return nil, apperr.Ef(apperr.KindNotFound, nil, "job %s not found", jobID)
	}
	return job, nil
}

func (s *jobService) List(dbc dbctx.Context, f repos.JobListFilter) ([]*types.ProcessingJob, int64, error) {
	rows, total, err := s.repo.List(dbc, f)
	if err != nil {
		return nil, 0, apperr.E(apperr.KindStore, "list processing jobs", err)
	}
	return rows, total, nil
}

func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error) {
	job, err := s.Get(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	applied, err := s.repo.CancelByJobID(dbc, jobID)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "cancel processing job", err)
	}
	job, err = s.Get(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.log.Info("Job cancelled", "job_id", jobID)
		s.notify.JobCancelled(job)
	}
	return job, nil
}

func (s *jobService) RetryFailed(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error) {
	job, err := s.Get(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusFailed {
		return nil, apperr.Ef(apperr.KindValidation, nil, "job %s is %s, only FAILED jobs can be requeued", jobID, job.Status)
	}

	applied, err := s.repo.RetryByJobID(dbc, jobID)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "requeue processing job", err)
	}
	if !applied {
		return nil, apperr.Ef(apperr.KindValidation, nil, "job %s is no longer FAILED", jobID)
	}
	job, err = s.Get(dbc, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Job requeued", "job_id", jobID)
	s.notify.JobQueued(job)
	return job, nil
}

func (s *jobService) QueueStats(dbc dbctx.Context) (map[jobs.Status]int64, error) {
	counts, err := s.repo.CountByStatus(dbc)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "count jobs by status", err)
	}
	return counts, nil
}

// FindLongRunning surfaces RUNNING jobs older than threshold. They are
// reported, never killed; reclaim happens through the stale-heartbeat path.
func (s *jobService) FindLongRunning(dbc dbctx.Context, threshold time.Duration) ([]*types.ProcessingJob, error) {
	if threshold <= 0 {
		return nil, apperr.E(apperr.KindValidation, "threshold must be positive", nil)
	}
	rows, err := s.repo.FindLongRunning(dbc, threshold)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "find long-running jobs", err)
	}
	for _, job := range rows {
		s.log.Warn("Long-running job detected",
			"job_id", job.JobID, "started_at", job.StartedAt, "processing_type", job.ProcessingType)
	}
	return rows, nil
}
