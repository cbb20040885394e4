package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	jobtypes "github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status         jobtypes.Status
	ProcessingType jobtypes.ProcessingType
	OwnerID        string
	SessionID      string
	Limit          int
	Offset         int
}

type ProcessingJobRepo interface {
	Create(dbc dbctx.Context, job *types.ProcessingJob) error
	GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error)
	List(dbc dbctx.Context, f ListFilter) ([]*types.ProcessingJob, int64, error)
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.ProcessingJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobtypes.Status, updates map[string]interface{}) (bool, error)
	AppendCompletedStep(dbc dbctx.Context, jobRowID uuid.UUID, step *types.ProcessingJobStep) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	CountByStatus(dbc dbctx.Context) (map[jobtypes.Status]int64, error)
	FindLongRunning(dbc dbctx.Context, threshold time.Duration) ([]*types.ProcessingJob, error)
	CancelByJobID(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
	RetryByJobID(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
}

type processingJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingJobRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingJobRepo {
	return &processingJobRepo{
		db:  db,
		log: baseLog.With("repo", "ProcessingJobRepo"),
	}
}

func (r *processingJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

func (r *processingJobRepo) Create(dbc dbctx.Context, job *types.ProcessingJob) error {
	return r.handle(dbc).Create(job).Error
}

func (r *processingJobRepo) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*types.ProcessingJob, error) {
	if jobID == uuid.Nil {
		return nil, nil
	}
	var job types.ProcessingJob
	err := r.handle(dbc).
		Preload("CompletedSteps", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where("job_id = ?", jobID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *processingJobRepo) List(dbc dbctx.Context, f ListFilter) ([]*types.ProcessingJob, int64, error) {
	q := r.handle(dbc).Model(&types.ProcessingJob{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProcessingType != "" {
		q = q.Where("processing_type = ?", f.ProcessingType)
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []*types.ProcessingJob
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

/*
ClaimNextRunnable picks one job a worker may execute and flips it to RUNNING
in the same transaction. Eligible rows are QUEUED jobs, RETRY jobs whose
backoff window (next_attempt_at) has elapsed, and RUNNING jobs whose
heartbeat has gone stale. Rows are taken highest priority first, then oldest
first. On postgres the row is locked with SKIP LOCKED so concurrent workers
never claim the same job.
*/
func (r *processingJobRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.ProcessingJob, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.ProcessingJob
	err := tx.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.ProcessingJob
		q := txx.Model(&types.ProcessingJob{}).
			Preload("CompletedSteps", func(db *gorm.DB) *gorm.DB {
				return db.Order("seq ASC")
			})
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		q = q.Where(`
        (
          status = ?
          OR (
            status = ?
            AND retry_count < max_retries
            AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, jobtypes.StatusQueued, jobtypes.StatusRetry, now, jobtypes.StatusRunning, staleCutoff).
			Order("priority ASC, created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.ProcessingJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       jobtypes.StatusRunning,
				"started_at":   now,
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = jobtypes.StatusRunning
		job.StartedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *processingJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.handle(dbc).
		Model(&types.ProcessingJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only when the row is not in one
// of the disallowed statuses. The returned bool reports whether a row
// changed; callers use it to notice a cancellation that raced the worker.
func (r *processingJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobtypes.Status, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	q := r.handle(dbc).
		Model(&types.ProcessingJob{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendCompletedStep records a committed step. Callers pass a dbc carrying
// the same transaction that wrote the step artifact so the two commit
// together; re-appending an already committed step is a no-op.
func (r *processingJobRepo) AppendCompletedStep(dbc dbctx.Context, jobRowID uuid.UUID, step *types.ProcessingJobStep) error {
	if jobRowID == uuid.Nil || step == nil {
		return nil
	}
	step.JobRowID = jobRowID
	if step.CompletedAt.IsZero() {
		step.CompletedAt = time.Now().UTC()
	}
	return r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_row_id"}, {Name: "step_name"}},
			DoNothing: true,
		}).
		Create(step).Error
}

func (r *processingJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return r.handle(dbc).
		Model(&types.ProcessingJob{}).
		Where("id = ? AND status = ?", id, jobtypes.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *processingJobRepo) CountByStatus(dbc dbctx.Context) (map[jobtypes.Status]int64, error) {
	var rows []struct {
		Status jobtypes.Status
		Count  int64
	}
	err := r.handle(dbc).Model(&types.ProcessingJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[jobtypes.Status]int64{}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *processingJobRepo) FindLongRunning(dbc dbctx.Context, threshold time.Duration) ([]*types.ProcessingJob, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var out []*types.ProcessingJob
	err := r.handle(dbc).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", jobtypes.StatusRunning, cutoff).
		Order("started_at ASC").
		Find(&out).Error
	return out, err
}

// CancelByJobID marks a job CANCELLED unless it already finished. The
// worker observes the flip at the next step boundary.
func (r *processingJobRepo) CancelByJobID(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	if jobID == uuid.Nil {
		return false, nil
	}
	now := time.Now().UTC()
	res := r.handle(dbc).
		Model(&types.ProcessingJob{}).
		Where("job_id = ? AND status NOT IN ?", jobID, []jobtypes.Status{jobtypes.StatusCompleted, jobtypes.StatusCancelled}).
		Updates(map[string]interface{}{
			"status":       jobtypes.StatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RetryByJobID requeues a FAILED job, clearing the failure fields and its
// remaining backoff so a worker may claim it immediately.
func (r *processingJobRepo) RetryByJobID(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	if jobID == uuid.Nil {
		return false, nil
	}
	now := time.Now().UTC()
	res := r.handle(dbc).
		Model(&types.ProcessingJob{}).
		Where("job_id = ? AND status = ?", jobID, jobtypes.StatusFailed).
		Updates(map[string]interface{}{
			"status":          jobtypes.StatusQueued,
			"retry_count":     0,
			"error_message":   "",
			"stack_trace":     "",
			"next_attempt_at": nil,
			"locked_at":       nil,
			"heartbeat_at":    nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
