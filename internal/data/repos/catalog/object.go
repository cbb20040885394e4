package catalog

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/catalog"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// BoxQuery is the spatial prefilter request. The box over-selects; the
// catalog engine applies the exact great-circle cut afterwards.
type BoxQuery struct {
	CenterRA  float64
	CenterDec float64
	RadiusDeg float64
	Types     []catalog.ObjectType
	Limit     int
}

// MagnitudeStats is the per-type aggregate shape for Statistics.
type MagnitudeStats struct {
	Average float64 `json:"average"`
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

type AstronomicalObjectRepo interface {
	Save(dbc dbctx.Context, obj *types.AstronomicalObject) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AstronomicalObject, error)
	GetByObjectID(dbc dbctx.Context, objectID string) (*types.AstronomicalObject, error)
	SearchBox(dbc dbctx.Context, q BoxQuery) ([]*types.AstronomicalObject, error)
	DeleteByTypeOlderThan(dbc dbctx.Context, t catalog.ObjectType, cutoff time.Time) (int64, error)
	Count(dbc dbctx.Context) (int64, error)
	CountsByType(dbc dbctx.Context) (map[catalog.ObjectType]int64, error)
	MagnitudeStatsByType(dbc dbctx.Context) (map[catalog.ObjectType]MagnitudeStats, error)
	CountObservedSince(dbc dbctx.Context, since time.Time) (int64, error)
	FindHighProperMotion(dbc dbctx.Context, minMasPerYear float64) ([]*types.AstronomicalObject, error)
	FindByMinParallax(dbc dbctx.Context, minParallaxMas float64) ([]*types.AstronomicalObject, error)
	FindSingleObservationBefore(dbc dbctx.Context, cutoff time.Time) ([]*types.AstronomicalObject, error)
}

type astronomicalObjectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAstronomicalObjectRepo(db *gorm.DB, baseLog *logger.Logger) AstronomicalObjectRepo {
	return &astronomicalObjectRepo{
		db:  db,
		log: baseLog.With("repo", "AstronomicalObjectRepo"),
	}
}

func (r *astronomicalObjectRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

func (r *astronomicalObjectRepo) Save(dbc dbctx.Context, obj *types.AstronomicalObject) error {
	return r.handle(dbc).Save(obj).Error
}

func (r *astronomicalObjectRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AstronomicalObject, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var obj types.AstronomicalObject
	err := r.handle(dbc).Where("id = ?", id).Limit(1).Find(&obj).Error
	if err != nil {
		return nil, err
	}
	if obj.ID == uuid.Nil {
		return nil, nil
	}
	return &obj, nil
}

func (r *astronomicalObjectRepo) GetByObjectID(dbc dbctx.Context, objectID string) (*types.AstronomicalObject, error) {
	if objectID == "" {
		return nil, nil
	}
	var obj types.AstronomicalObject
	err := r.handle(dbc).Where("object_id = ?", objectID).Limit(1).Find(&obj).Error
	if err != nil {
		return nil, err
	}
	if obj.ID == uuid.Nil {
		return nil, nil
	}
	return &obj, nil
}

/*
SearchBox runs the positional-index prefilter: a declination band plus a
right-ascension window widened by 1/cos(dec), handling RA wraparound at 0/360
and degenerating to the full band near the poles. Results are candidates
only; callers must apply the exact separation cut.
*/
func (r *astronomicalObjectRepo) SearchBox(dbc dbctx.Context, q BoxQuery) ([]*types.AstronomicalObject, error) {
	decMin := q.CenterDec - q.RadiusDeg
	decMax := q.CenterDec + q.RadiusDeg

	query := r.handle(dbc).Model(&types.AstronomicalObject{}).
		Where("dec BETWEEN ? AND ?", decMin, decMax)

	// Near the poles the RA window covers the whole circle.
	if decMin > -90+q.RadiusDeg && decMax < 90-q.RadiusDeg {
		cosDec := math.Cos(q.CenterDec * math.Pi / 180)
		if cosDec < 1e-9 {
			cosDec = 1e-9
		}
		deltaRA := q.RadiusDeg / cosDec
		if deltaRA < 180 {
			raMin := q.CenterRA - deltaRA
			raMax := q.CenterRA + deltaRA
			switch {
			case raMin < 0:
				query = query.Where("(ra >= ? OR ra <= ?)", raMin+360, raMax)
			case raMax > 360:
				query = query.Where("(ra >= ? OR ra <= ?)", raMin, raMax-360)
			default:
				query = query.Where("ra BETWEEN ? AND ?", raMin, raMax)
			}
		}
	}

	if len(q.Types) > 0 {
		query = query.Where("type IN ?", q.Types)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var out []*types.AstronomicalObject
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *astronomicalObjectRepo) DeleteByTypeOlderThan(dbc dbctx.Context, t catalog.ObjectType, cutoff time.Time) (int64, error) {
	res := r.handle(dbc).
		Where("type = ? AND last_observed_at IS NOT NULL AND last_observed_at < ?", t, cutoff).
		Delete(&types.AstronomicalObject{})
	return res.RowsAffected, res.Error
}

func (r *astronomicalObjectRepo) Count(dbc dbctx.Context) (int64, error) {
	var n int64
	err := r.handle(dbc).Model(&types.AstronomicalObject{}).Count(&n).Error
	return n, err
}

func (r *astronomicalObjectRepo) CountsByType(dbc dbctx.Context) (map[catalog.ObjectType]int64, error) {
	var rows []struct {
		Type  catalog.ObjectType
		Count int64
	}
	err := r.handle(dbc).Model(&types.AstronomicalObject{}).
		Select("type, count(*) as count").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[catalog.ObjectType]int64{}
	for _, row := range rows {
		out[row.Type] = row.Count
	}
	return out, nil
}

func (r *astronomicalObjectRepo) MagnitudeStatsByType(dbc dbctx.Context) (map[catalog.ObjectType]MagnitudeStats, error) {
	var rows []struct {
		Type catalog.ObjectType
		Avg  float64
		Min  float64
		Max  float64
	}
	err := r.handle(dbc).Model(&types.AstronomicalObject{}).
		Select("type, avg(magnitude) as avg, min(magnitude) as min, max(magnitude) as max").
		Where("magnitude IS NOT NULL").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[catalog.ObjectType]MagnitudeStats{}
	for _, row := range rows {
		out[row.Type] = MagnitudeStats{Average: row.Avg, Minimum: row.Min, Maximum: row.Max}
	}
	return out, nil
}

func (r *astronomicalObjectRepo) CountObservedSince(dbc dbctx.Context, since time.Time) (int64, error) {
	var n int64
	err := r.handle(dbc).Model(&types.AstronomicalObject{}).
		Where("last_observed_at IS NOT NULL AND last_observed_at >= ?", since).
		Count(&n).Error
	return n, err
}

func (r *astronomicalObjectRepo) FindHighProperMotion(dbc dbctx.Context, minMasPerYear float64) ([]*types.AstronomicalObject, error) {
	var out []*types.AstronomicalObject
	err := r.handle(dbc).
		Where("pm_ra IS NOT NULL AND pm_dec IS NOT NULL AND (pm_ra*pm_ra + pm_dec*pm_dec) >= ?", minMasPerYear*minMasPerYear).
		Find(&out).Error
	return out, err
}

func (r *astronomicalObjectRepo) FindByMinParallax(dbc dbctx.Context, minParallaxMas float64) ([]*types.AstronomicalObject, error) {
	var out []*types.AstronomicalObject
	err := r.handle(dbc).
		Where("parallax_mas IS NOT NULL AND parallax_mas >= ?", minParallaxMas).
		Order("parallax_mas DESC").
		Find(&out).Error
	return out, err
}

func (r *astronomicalObjectRepo) FindSingleObservationBefore(dbc dbctx.Context, cutoff time.Time) ([]*types.AstronomicalObject, error) {
	var out []*types.AstronomicalObject
	err := r.handle(dbc).
		Where("observation_count = 1 AND last_observed_at IS NOT NULL AND last_observed_at < ?", cutoff).
		Order("last_observed_at ASC").
		Find(&out).Error
	return out, err
}
