package catalog

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type CrossmatchRepo interface {
	Upsert(dbc dbctx.Context, cm *types.CatalogCrossmatch) error
	ListByObject(dbc dbctx.Context, objectID uuid.UUID) ([]*types.CatalogCrossmatch, error)
	GetByObjectAndCatalog(dbc dbctx.Context, objectID uuid.UUID, catalogName string) (*types.CatalogCrossmatch, error)
	DeleteByObject(dbc dbctx.Context, objectID uuid.UUID) (int64, error)
}

type crossmatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCrossmatchRepo(db *gorm.DB, baseLog *logger.Logger) CrossmatchRepo {
	return &crossmatchRepo{
		db:  db,
		log: baseLog.With("repo", "CrossmatchRepo"),
	}
}

func (r *crossmatchRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

// Upsert keeps at most one row per (object, external catalog), replacing the
// stored match when a newer one arrives.
func (r *crossmatchRepo) Upsert(dbc dbctx.Context, cm *types.CatalogCrossmatch) error {
	existing, err := r.GetByObjectAndCatalog(dbc, cm.ObjectID, cm.CatalogName)
	if err != nil {
		return err
	}
	if existing != nil {
		cm.ID = existing.ID
		cm.CreatedAt = existing.CreatedAt
		return r.handle(dbc).Save(cm).Error
	}
	return r.handle(dbc).Create(cm).Error
}

func (r *crossmatchRepo) ListByObject(dbc dbctx.Context, objectID uuid.UUID) ([]*types.CatalogCrossmatch, error) {
	var out []*types.CatalogCrossmatch
	err := r.handle(dbc).
		Where("object_id = ?", objectID).
		Order("catalog_name ASC").
		Find(&out).Error
	return out, err
}

func (r *crossmatchRepo) GetByObjectAndCatalog(dbc dbctx.Context, objectID uuid.UUID, catalogName string) (*types.CatalogCrossmatch, error) {
	var cm types.CatalogCrossmatch
	err := r.handle(dbc).
		Where("object_id = ? AND catalog_name = ?", objectID, catalogName).
		Limit(1).
		Find(&cm).Error
	if err != nil {
		return nil, err
	}
	if cm.ID == uuid.Nil {
		return nil, nil
	}
	return &cm, nil
}

func (r *crossmatchRepo) DeleteByObject(dbc dbctx.Context, objectID uuid.UUID) (int64, error) {
	res := r.handle(dbc).Where("object_id = ?", objectID).Delete(&types.CatalogCrossmatch{})
	return res.RowsAffected, res.Error
}
