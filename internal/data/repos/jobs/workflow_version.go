package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type WorkflowVersionRepo interface {
	Create(dbc dbctx.Context, wv *types.WorkflowVersion) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.WorkflowVersion, error)
	ListActive(dbc dbctx.Context, name, processingType string) ([]*types.WorkflowVersion, error)
	GetDefault(dbc dbctx.Context, processingType string) (*types.WorkflowVersion, error)
	List(dbc dbctx.Context, processingType string) ([]*types.WorkflowVersion, error)
	SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error
	RecordUsage(dbc dbctx.Context, id uuid.UUID) error
	UpdateScores(dbc dbctx.Context, id uuid.UUID, performance, quality *float64) error
}

type workflowVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowVersionRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowVersionRepo {
	return &workflowVersionRepo{
		db:  db,
		log: baseLog.With("repo", "WorkflowVersionRepo"),
	}
}

func (r *workflowVersionRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

func (r *workflowVersionRepo) Create(dbc dbctx.Context, wv *types.WorkflowVersion) error {
	return r.handle(dbc).Create(wv).Error
}

func (r *workflowVersionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.WorkflowVersion, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var wv types.WorkflowVersion
	err := r.handle(dbc).Where("id = ?", id).Limit(1).Find(&wv).Error
	if err != nil {
		return nil, err
	}
	if wv.ID == uuid.Nil {
		return nil, nil
	}
	return &wv, nil
}

// ListActive returns the active versions for a (name, processingType) pair
// in version order, so traffic-split bucketing walks a stable sequence.
func (r *workflowVersionRepo) ListActive(dbc dbctx.Context, name, processingType string) ([]*types.WorkflowVersion, error) {
	var out []*types.WorkflowVersion
	err := r.handle(dbc).
		Where("name = ? AND processing_type = ? AND is_active = ?", name, processingType, true).
		Order("version ASC").
		Find(&out).Error
	return out, err
}

func (r *workflowVersionRepo) GetDefault(dbc dbctx.Context, processingType string) (*types.WorkflowVersion, error) {
	var wv types.WorkflowVersion
	err := r.handle(dbc).
		Where("processing_type = ? AND is_default = ?", processingType, true).
		Order("created_at DESC").
		Limit(1).
		Find(&wv).Error
	if err != nil {
		return nil, err
	}
	if wv.ID == uuid.Nil {
		return nil, nil
	}
	return &wv, nil
}

func (r *workflowVersionRepo) List(dbc dbctx.Context, processingType string) ([]*types.WorkflowVersion, error) {
	q := r.handle(dbc).Model(&types.WorkflowVersion{})
	if processingType != "" {
		q = q.Where("processing_type = ?", processingType)
	}
	var out []*types.WorkflowVersion
	err := q.Order("name ASC, version ASC").Find(&out).Error
	return out, err
}

func (r *workflowVersionRepo) SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"is_active":  active,
		"updated_at": now,
	}
	if active {
		updates["activated_at"] = now
	}
	return r.handle(dbc).
		Model(&types.WorkflowVersion{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *workflowVersionRepo) RecordUsage(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return r.handle(dbc).
		Model(&types.WorkflowVersion{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
			"updated_at":   now,
		}).Error
}

func (r *workflowVersionRepo) UpdateScores(dbc dbctx.Context, id uuid.UUID, performance, quality *float64) error {
	if id == uuid.Nil {
		return nil
	}
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if performance != nil {
		updates["performance_score"] = *performance
	}
	if quality != nil {
		updates["quality_score"] = *quality
	}
	return r.handle(dbc).
		Model(&types.WorkflowVersion{}).
		Where("id = ?", id).
		Updates(updates).Error
}
