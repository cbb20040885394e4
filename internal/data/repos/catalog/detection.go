package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type DetectionRepo interface {
	Create(dbc dbctx.Context, d *types.Detection) error
	CreateBatch(dbc dbctx.Context, ds []*types.Detection) error
	ListByObject(dbc dbctx.Context, objectID uuid.UUID, limit int) ([]*types.Detection, error)
	ListByObjectSince(dbc dbctx.Context, objectID uuid.UUID, since time.Time) ([]*types.Detection, error)
	CountByObject(dbc dbctx.Context, objectID uuid.UUID) (int64, error)
	DeleteByObject(dbc dbctx.Context, objectID uuid.UUID) (int64, error)
}

type detectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetectionRepo(db *gorm.DB, baseLog *logger.Logger) DetectionRepo {
	return &detectionRepo{
		db:  db,
		log: baseLog.With("repo", "DetectionRepo"),
	}
}

func (r *detectionRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

func (r *detectionRepo) Create(dbc dbctx.Context, d *types.Detection) error {
	return r.handle(dbc).Create(d).Error
}

func (r *detectionRepo) CreateBatch(dbc dbctx.Context, ds []*types.Detection) error {
	if len(ds) == 0 {
		return nil
	}
	return r.handle(dbc).CreateInBatches(ds, 200).Error
}

func (r *detectionRepo) ListByObject(dbc dbctx.Context, objectID uuid.UUID, limit int) ([]*types.Detection, error) {
	q := r.handle(dbc).
		Where("object_id = ?", objectID).
		Order("observed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Detection
	err := q.Find(&out).Error
	return out, err
}

func (r *detectionRepo) ListByObjectSince(dbc dbctx.Context, objectID uuid.UUID, since time.Time) ([]*types.Detection, error) {
	var out []*types.Detection
	err := r.handle(dbc).
		Where("object_id = ? AND observed_at >= ?", objectID, since).
		Order("observed_at ASC").
		Find(&out).Error
	return out, err
}

func (r *detectionRepo) CountByObject(dbc dbctx.Context, objectID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).Model(&types.Detection{}).
		Where("object_id = ?", objectID).
		Count(&n).Error
	return n, err
}

func (r *detectionRepo) DeleteByObject(dbc dbctx.Context, objectID uuid.UUID) (int64, error) {
	res := r.handle(dbc).Where("object_id = ?", objectID).Delete(&types.Detection{})
	return res.RowsAffected, res.Error
}
