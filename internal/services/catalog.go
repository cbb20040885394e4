package services

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/astro/coords"
	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/catalog"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// ConeSearchRequest is the catalog cone-search input. RadiusArcsec is
// required; everything else narrows or pages the result.
type ConeSearchRequest struct {
	CenterRA     float64              `json:"center_ra"`
	CenterDec    float64              `json:"center_dec"`
	RadiusArcsec float64              `json:"radius_arcsec"`
	ObjectTypes  []catalog.ObjectType `json:"object_types,omitempty"`
	MinMagnitude *float64             `json:"min_magnitude,omitempty"`
	MaxMagnitude *float64             `json:"max_magnitude,omitempty"`
	MaxResults   int                  `json:"max_results,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
}

// ConeSearchMatch pairs a catalog object with its exact great-circle
// separation from the request center.
type ConeSearchMatch struct {
	Object           *types.AstronomicalObject `json:"object"`
	SeparationArcsec float64                   `json:"separation_arcsec"`
}

// ConeSearchResult echoes the request center and carries matches ordered
// ascending by separation. TotalResults counts matches after all filters
// and before pagination.
type ConeSearchResult struct {
	CenterRA        float64           `json:"center_ra"`
	CenterDec       float64           `json:"center_dec"`
	RadiusArcsec    float64           `json:"radius_arcsec"`
	TotalResults    int               `json:"total_results"`
	Matches         []ConeSearchMatch `json:"matches"`
	SearchTimestamp time.Time         `json:"search_timestamp"`
}

// NearestMatch is the nearest-neighbor result. MatchConfidence decays
// linearly from 1 at zero separation to 0 at the search radius.
type NearestMatch struct {
	Object           *types.AstronomicalObject `json:"object"`
	SeparationArcsec float64                   `json:"separation_arcsec"`
	MatchConfidence  float64                   `json:"match_confidence"`
}

// CrossMatchPosition is one query position for CrossMatch.
type CrossMatchPosition struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// CrossMatchResult records which input position matched which object.
// Positions with no match within the radius are omitted from the output.
type CrossMatchResult struct {
	Position CrossMatchPosition `json:"position"`
	Match    NearestMatch       `json:"match"`
}

// CatalogStatistics is the aggregate snapshot of the catalog.
type CatalogStatistics struct {
	TotalObjects            int64                                     `json:"total_objects"`
	ObjectCountsByType      map[catalog.ObjectType]int64              `json:"object_counts_by_type"`
	MagnitudeStatistics     map[catalog.ObjectType]repos.MagnitudeStats `json:"magnitude_statistics"`
	RecentObservationsCount int64                                     `json:"recent_observations_count"`
}

type CatalogService interface {
	ConeSearch(dbc dbctx.Context, req ConeSearchRequest) (*ConeSearchResult, error)
	FindNearest(dbc dbctx.Context, ra, dec float64, objectType *catalog.ObjectType, maxArcsec float64) (*NearestMatch, error)
	CrossMatch(dbc dbctx.Context, positions []CrossMatchPosition, maxArcsec float64) ([]CrossMatchResult, error)
	SaveObject(dbc dbctx.Context, obj *types.AstronomicalObject) error
	RecordDetection(dbc dbctx.Context, obj *types.AstronomicalObject, det *types.Detection) error
	GetByObjectID(dbc dbctx.Context, objectID string) (*types.AstronomicalObject, error)
	BulkImport(dbc dbctx.Context, objs []*types.AstronomicalObject) (int, error)
	CleanupTransients(dbc dbctx.Context, olderThanDays int) (int, error)
	Statistics(dbc dbctx.Context, recentWindow time.Duration) (*CatalogStatistics, error)
	FindHighProperMotion(dbc dbctx.Context, minMasPerYear float64) ([]*types.AstronomicalObject, error)
	FindNearby(dbc dbctx.Context, maxDistancePc float64) ([]*types.AstronomicalObject, error)
	FindObjectsNeedingFollowUp(dbc dbctx.Context, notSeenFor time.Duration) ([]*types.AstronomicalObject, error)
}

type catalogService struct {
	db         *gorm.DB
	log        *logger.Logger
	repo       repos.AstronomicalObjectRepo
	detections repos.DetectionRepo
}

func NewCatalogService(db *gorm.DB, baseLog *logger.Logger, repo repos.AstronomicalObjectRepo, detections repos.DetectionRepo) CatalogService {
	return &catalogService{
		db:         db,
		log:        baseLog.With("service", "CatalogService"),
		repo:       repo,
		detections: detections,
	}
}

func (s *catalogService) ConeSearch(dbc dbctx.Context, req ConeSearchRequest) (*ConeSearchResult, error) {
	if !coords.IsValidCoordinate(req.CenterRA, req.CenterDec) {
		return nil, apperr.Ef(apperr.KindValidation, nil, "invalid search center (%f, %f)", req.CenterRA, req.CenterDec)
	}
	if req.RadiusArcsec <= 0 {
		return nil, apperr.E(apperr.KindValidation, "search radius must be positive", nil)
	}

	centerRA := coords.NormalizeRA(req.CenterRA)
	centerDec := req.CenterDec
	radiusDeg := coords.ArcsecondsToDegrees(req.RadiusArcsec)

	candidates, err := s.repo.SearchBox(dbc, repos.BoxQuery{
		CenterRA:  centerRA,
		CenterDec: centerDec,
		RadiusDeg: radiusDeg,
		Types:     req.ObjectTypes,
	})
	if err != nil {
		return nil, apperr.E(apperr.KindTransientBackend, "cone search prefilter", err)
	}

	hasMagBound := req.MinMagnitude != nil || req.MaxMagnitude != nil
	matches := make([]ConeSearchMatch, 0, len(candidates))
	for _, obj := range candidates {
		sep := coords.SeparationArcsec(centerRA, centerDec, obj.RA, obj.Dec)
		if sep > req.RadiusArcsec {
			continue
		}
		if hasMagBound {
			if obj.Magnitude == nil {
				continue
			}
			if req.MinMagnitude != nil && *obj.Magnitude < *req.MinMagnitude {
				continue
			}
			if req.MaxMagnitude != nil && *obj.Magnitude > *req.MaxMagnitude {
				continue
			}
		}
		matches = append(matches, ConeSearchMatch{Object: obj, SeparationArcsec: sep})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SeparationArcsec < matches[j].SeparationArcsec
	})

	total := len(matches)
	if req.Offset > 0 {
		if req.Offset >= len(matches) {
			matches = matches[:0]
		} else {
			matches = matches[req.Offset:]
		}
	}
	limit := req.Limit
	if req.MaxResults > 0 && (limit <= 0 || req.MaxResults < limit) {
		limit = req.MaxResults
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return &ConeSearchResult{
		CenterRA:        centerRA,
		CenterDec:       centerDec,
		RadiusArcsec:    req.RadiusArcsec,
		TotalResults:    total,
		Matches:         matches,
		SearchTimestamp: time.Now().UTC(),
	}, nil
}

func (s *catalogService) FindNearest(dbc dbctx.Context, ra, dec float64, objectType *catalog.ObjectType, maxArcsec float64) (*NearestMatch, error) {
	if !coords.IsValidCoordinate(ra, dec) {
		return nil, apperr.Ef(apperr.KindValidation, nil, "invalid query position (%f, %f)", ra, dec)
	}
	if maxArcsec <= 0 {
		return nil, apperr.E(apperr.KindValidation, "search radius must be positive", nil)
	}

	req := ConeSearchRequest{
		CenterRA:     ra,
		CenterDec:    dec,
		RadiusArcsec: maxArcsec,
		MaxResults:   1,
	}
	if objectType != nil {
		req.ObjectTypes = []catalog.ObjectType{*objectType}
	}
	res, err := s.ConeSearch(dbc, req)
	if err != nil {
		return nil, err
	}
	if len(res.Matches) == 0 {
		return nil, nil
	}

	best := res.Matches[0]
	confidence := 1 - best.SeparationArcsec/maxArcsec
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &NearestMatch{
		Object:           best.Object,
		SeparationArcsec: best.SeparationArcsec,
		MatchConfidence:  confidence,
	}, nil
}

func (s *catalogService) CrossMatch(dbc dbctx.Context, positions []CrossMatchPosition, maxArcsec float64) ([]CrossMatchResult, error) {
	if maxArcsec <= 0 {
		return nil, apperr.E(apperr.KindValidation, "match radius must be positive", nil)
	}
	out := make([]CrossMatchResult, 0, len(positions))
	for _, pos := range positions {
		match, err := s.FindNearest(dbc, pos.RA, pos.Dec, nil, maxArcsec)
		if err != nil {
			return nil, err
		}
		if match == nil {
			continue
		}
		out = append(out, CrossMatchResult{Position: pos, Match: *match})
	}
	return out, nil
}

func (s *catalogService) SaveObject(dbc dbctx.Context, obj *types.AstronomicalObject) error {
	if obj == nil {
		return apperr.E(apperr.KindValidation, "missing object", nil)
	}
	if obj.Dec < -90 || obj.Dec > 90 {
		return apperr.Ef(apperr.KindValidation, nil, "declination %f outside [-90, 90]", obj.Dec)
	}
	if obj.Type == "" {
		obj.Type = catalog.ObjectTypeUnknown
	}
	if !obj.Type.IsValid() {
		return apperr.Ef(apperr.KindValidation, nil, "unknown object type %q", obj.Type)
	}

	obj.RA = coords.NormalizeRA(obj.RA)
	point := coords.UnitVector(obj.RA, obj.Dec)
	obj.X, obj.Y, obj.Z = point.X, point.Y, point.Z

	if obj.ParallaxMas != nil && *obj.ParallaxMas > 0 {
		d := 1000 / *obj.ParallaxMas
		obj.DistancePc = &d
	}

	now := time.Now().UTC()
	if obj.LastObservedAt == nil {
		obj.LastObservedAt = &now
	}
	if obj.FirstObservedAt == nil {
		obj.FirstObservedAt = obj.LastObservedAt
	}
	if obj.ID == uuid.Nil && obj.ObservationCount == 0 {
		obj.ObservationCount = 1
	}

	if err := s.repo.Save(dbc, obj); err != nil {
		return apperr.E(apperr.KindStore, "save catalog object", err)
	}
	return nil
}

// RecordDetection saves the object, then appends one Detection row bound to
// it. The detection inherits the object's position when it carries none.
func (s *catalogService) RecordDetection(dbc dbctx.Context, obj *types.AstronomicalObject, det *types.Detection) error {
	if det == nil {
		return apperr.E(apperr.KindValidation, "missing detection", nil)
	}
	if err := s.SaveObject(dbc, obj); err != nil {
		return err
	}
	det.ObjectID = obj.ID
	if det.RA == 0 && det.Dec == 0 {
		det.RA, det.Dec = obj.RA, obj.Dec
	}
	if det.ObservedAt.IsZero() {
		det.ObservedAt = time.Now().UTC()
	}
	if det.Magnitude == nil {
		det.Magnitude = obj.Magnitude
	}
	if err := s.detections.Create(dbc, det); err != nil {
		return apperr.E(apperr.KindStore, "record detection", err)
	}
	return nil
}

func (s *catalogService) GetByObjectID(dbc dbctx.Context, objectID string) (*types.AstronomicalObject, error) {
	if objectID == "" {
		return nil, apperr.E(apperr.KindValidation, "missing object id", nil)
	}
	obj, err := s.repo.GetByObjectID(dbc, objectID)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "load catalog object", err)
	}
	if obj == nil {
		return nil, apperr.Ef(apperr.KindNotFound, nil, "object %s not found", objectID)
	}
	return obj, nil
}

// BulkImport persists each object independently. A failed write is logged
// and skipped; the batch never aborts. Returns the number of successes.
func (s *catalogService) BulkImport(dbc dbctx.Context, objs []*types.AstronomicalObject) (int, error) {
	imported := 0
	for i, obj := range objs {
		if err := s.SaveObject(dbc, obj); err != nil {
			s.log.Warn("Bulk import: object skipped", "index", i, "error", err)
			continue
		}
		imported++
	}
	return imported, nil
}

// CleanupTransients deletes cosmic-ray and artifact rows last observed more
// than olderThanDays ago. Each category is attempted independently; the
// return value counts categories whose deletion completed without error.
func (s *catalogService) CleanupTransients(dbc dbctx.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, apperr.E(apperr.KindValidation, "retention days must be non-negative", nil)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	cleaned := 0
	for _, t := range catalog.TransientTypes() {
		deleted, err := s.repo.DeleteByTypeOlderThan(dbc, t, cutoff)
		if err != nil {
			s.log.Warn("Transient cleanup: category failed", "type", t, "error", err)
			continue
		}
		s.log.Info("Transient cleanup: category done", "type", t, "deleted", deleted, "cutoff", cutoff)
		cleaned++
	}
	return cleaned, nil
}

func (s *catalogService) Statistics(dbc dbctx.Context, recentWindow time.Duration) (*CatalogStatistics, error) {
	if recentWindow <= 0 {
		recentWindow = 24 * time.Hour
	}
	total, err := s.repo.Count(dbc)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "count catalog objects", err)
	}
	counts, err := s.repo.CountsByType(dbc)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "count catalog objects by type", err)
	}
	magStats, err := s.repo.MagnitudeStatsByType(dbc)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "aggregate magnitudes", err)
	}
	recent, err := s.repo.CountObservedSince(dbc, time.Now().UTC().Add(-recentWindow))
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "count recent observations", err)
	}
	return &CatalogStatistics{
		TotalObjects:            total,
		ObjectCountsByType:      counts,
		MagnitudeStatistics:     magStats,
		RecentObservationsCount: recent,
	}, nil
}

func (s *catalogService) FindHighProperMotion(dbc dbctx.Context, minMasPerYear float64) ([]*types.AstronomicalObject, error) {
	if minMasPerYear <= 0 {
		return nil, apperr.E(apperr.KindValidation, "proper motion threshold must be positive", nil)
	}
	rows, err := s.repo.FindHighProperMotion(dbc, minMasPerYear)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "query proper motion", err)
	}
	return rows, nil
}

// FindNearby selects objects within maxDistancePc. Distance is parallax
// derived, so the filter is a minimum parallax of 1000/maxDistancePc mas.
func (s *catalogService) FindNearby(dbc dbctx.Context, maxDistancePc float64) ([]*types.AstronomicalObject, error) {
	if maxDistancePc <= 0 {
		return nil, apperr.E(apperr.KindValidation, "distance bound must be positive", nil)
	}
	rows, err := s.repo.FindByMinParallax(dbc, 1000/maxDistancePc)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "query nearby objects", err)
	}
	return rows, nil
}

func (s *catalogService) FindObjectsNeedingFollowUp(dbc dbctx.Context, notSeenFor time.Duration) ([]*types.AstronomicalObject, error) {
	if notSeenFor <= 0 {
		return nil, apperr.E(apperr.KindValidation, "follow-up window must be positive", nil)
	}
	rows, err := s.repo.FindSingleObservationBefore(dbc, time.Now().UTC().Add(-notSeenFor))
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "query follow-up candidates", err)
	}
	return rows, nil
}
