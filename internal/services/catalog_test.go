package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	"github.com/halcyonsky/astropipe-backend/internal/data/repos/testutil"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	cattypes "github.com/halcyonsky/astropipe-backend/internal/domain/catalog"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
)

func newCatalogService(t *testing.T) (CatalogService, repos.AstronomicalObjectRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewAstronomicalObjectRepo(db, testutil.Logger(t))
	svc := NewCatalogService(db, testutil.Logger(t), repo, repos.NewDetectionRepo(db, testutil.Logger(t)))
	return svc, repo, dbc
}

func saveCatalogObject(t *testing.T, svc CatalogService, dbc dbctx.Context, objectID string, ra, dec, mag float64, typ cattypes.ObjectType) *types.AstronomicalObject {
	t.Helper()
	obj := &types.AstronomicalObject{
		ObjectID:  &objectID,
		RA:        ra,
		Dec:       dec,
		Magnitude: &mag,
		Type:      typ,
	}
	if err := svc.SaveObject(dbc, obj); err != nil {
		t.Fatalf("save %s: %v", objectID, err)
	}
	return obj
}

func TestConeSearchHitAndMiss(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	saveCatalogObject(t, svc, dbc, "A", 123.456, 45.678, 12.5, cattypes.ObjectTypeStar)
	saveCatalogObject(t, svc, dbc, "B", 124.000, 46.000, 15.2, cattypes.ObjectTypeGalaxy)

	// B is roughly 0.5 deg away, far outside 60 arcsec; seed a closer
	// galaxy so the two-match ordering is exercised.
	saveCatalogObject(t, svc, dbc, "B2", 123.456+45.0/3600/math.Cos(45.678*math.Pi/180), 45.678, 15.2, cattypes.ObjectTypeGalaxy)

	res, err := svc.ConeSearch(dbc, ConeSearchRequest{
		CenterRA: 123.456, CenterDec: 45.678, RadiusArcsec: 60,
	})
	if err != nil {
		t.Fatalf("ConeSearch: %v", err)
	}
	if res.TotalResults != 2 || len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got total=%d len=%d", res.TotalResults, len(res.Matches))
	}
	if got := *res.Matches[0].Object.ObjectID; got != "A" {
		t.Fatalf("first match should be A, got %s", got)
	}
	if res.Matches[0].SeparationArcsec > 0.01 {
		t.Fatalf("A separation should be ~0, got %f", res.Matches[0].SeparationArcsec)
	}
	if sep := res.Matches[1].SeparationArcsec; sep < 40 || sep > 50 {
		t.Fatalf("B2 separation should be ~45 arcsec, got %f", sep)
	}

	minMag, maxMag := 10.0, 14.0
	res, err = svc.ConeSearch(dbc, ConeSearchRequest{
		CenterRA: 123.456, CenterDec: 45.678, RadiusArcsec: 60,
		MinMagnitude: &minMag, MaxMagnitude: &maxMag,
	})
	if err != nil {
		t.Fatalf("ConeSearch magnitude filter: %v", err)
	}
	if res.TotalResults != 1 || *res.Matches[0].Object.ObjectID != "A" {
		t.Fatalf("magnitude filter should keep only A, got %d", res.TotalResults)
	}

	res, err = svc.ConeSearch(dbc, ConeSearchRequest{
		CenterRA: 123.456, CenterDec: 45.678, RadiusArcsec: 60,
		ObjectTypes: []cattypes.ObjectType{cattypes.ObjectTypeStar},
	})
	if err != nil {
		t.Fatalf("ConeSearch type filter: %v", err)
	}
	if res.TotalResults != 1 || *res.Matches[0].Object.ObjectID != "A" {
		t.Fatalf("type filter should keep only A, got %d", res.TotalResults)
	}

	res, err = svc.ConeSearch(dbc, ConeSearchRequest{
		CenterRA: 123.456, CenterDec: 45.678, RadiusArcsec: 10,
	})
	if err != nil {
		t.Fatalf("ConeSearch tight radius: %v", err)
	}
	if res.TotalResults != 1 || *res.Matches[0].Object.ObjectID != "A" {
		t.Fatalf("10 arcsec radius should keep only A, got %d", res.TotalResults)
	}
}

func TestConeSearchEmpty(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	res, err := svc.ConeSearch(dbc, ConeSearchRequest{
		CenterRA: 10, CenterDec: -30, RadiusArcsec: 60,
	})
	if err != nil {
		t.Fatalf("ConeSearch: %v", err)
	}
	if res.TotalResults != 0 || len(res.Matches) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if res.CenterRA != 10 || res.CenterDec != -30 {
		t.Fatalf("center should echo the request, got (%f, %f)", res.CenterRA, res.CenterDec)
	}
	if res.SearchTimestamp.IsZero() {
		t.Fatal("search timestamp should be populated")
	}
}

func TestConeSearchRejectsBadInput(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	if _, err := svc.ConeSearch(dbc, ConeSearchRequest{CenterRA: 10, CenterDec: 95, RadiusArcsec: 60}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("dec out of range should be a validation error, got %v", err)
	}
	if _, err := svc.ConeSearch(dbc, ConeSearchRequest{CenterRA: 10, CenterDec: 10}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("zero radius should be a validation error, got %v", err)
	}
}

func TestFindNearestConfidence(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	// One object 25.5 arcsec east of the query position along the equator.
	saveCatalogObject(t, svc, dbc, "N1", 180.0+25.5/3600, 0, 13.0, cattypes.ObjectTypeStar)

	match, err := svc.FindNearest(dbc, 180.0, 0, nil, 60)
	if err != nil {
		t.Fatalf("FindNearest: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match")
	}
	if math.Abs(match.SeparationArcsec-25.5) > 0.05 {
		t.Fatalf("separation should be ~25.5 arcsec, got %f", match.SeparationArcsec)
	}
	if match.MatchConfidence <= 0.57 || match.MatchConfidence >= 0.58 {
		t.Fatalf("confidence should be in (0.57, 0.58), got %f", match.MatchConfidence)
	}

	missing, err := svc.FindNearest(dbc, 0, 0, nil, 60)
	if err != nil {
		t.Fatalf("FindNearest miss: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected no match, got %+v", missing)
	}

	star := cattypes.ObjectTypeGalaxy
	filtered, err := svc.FindNearest(dbc, 180.0, 0, &star, 60)
	if err != nil {
		t.Fatalf("FindNearest type filter: %v", err)
	}
	if filtered != nil {
		t.Fatalf("type filter should exclude the star, got %+v", filtered)
	}
}

func TestCrossMatchPreservesOrder(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	saveCatalogObject(t, svc, dbc, "P1-match", 50.0, 20.0, 14.0, cattypes.ObjectTypeStar)

	results, err := svc.CrossMatch(dbc, []CrossMatchPosition{
		{RA: 50.0, Dec: 20.0},
		{RA: 200.0, Dec: -40.0},
	}, 60)
	if err != nil {
		t.Fatalf("CrossMatch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Position.RA != 50.0 {
		t.Fatalf("result should correspond to P1, got %+v", results[0].Position)
	}
	if got := *results[0].Match.Object.ObjectID; got != "P1-match" {
		t.Fatalf("matched object should be P1-match, got %s", got)
	}
}

func TestSaveObjectDerivations(t *testing.T) {
	svc, repo, dbc := newCatalogService(t)

	parallax := 20.0
	objectID := "DERIVE-1"
	obj := &types.AstronomicalObject{
		ObjectID:    &objectID,
		RA:          370.0,
		Dec:         30.0,
		ParallaxMas: &parallax,
		Type:        cattypes.ObjectTypeStar,
	}
	if err := svc.SaveObject(dbc, obj); err != nil {
		t.Fatalf("SaveObject: %v", err)
	}

	got, err := repo.GetByObjectID(dbc, objectID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v, %+v", err, got)
	}
	if got.RA != 10.0 {
		t.Fatalf("RA should normalize 370 -> 10, got %f", got.RA)
	}
	if got.DistancePc == nil || math.Abs(*got.DistancePc-50.0) > 1e-9 {
		t.Fatalf("distance should derive to 50 pc, got %+v", got.DistancePc)
	}
	norm := got.X*got.X + got.Y*got.Y + got.Z*got.Z
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("stored point should be a unit vector, |v|^2=%f", norm)
	}
	if got.ObservationCount != 1 {
		t.Fatalf("new object should start at 1 observation, got %d", got.ObservationCount)
	}
	if got.FirstObservedAt == nil || got.LastObservedAt == nil {
		t.Fatal("observation timestamps should be set")
	}

	if err := svc.SaveObject(dbc, &types.AstronomicalObject{RA: 10, Dec: 10, Type: "PLANET"}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("unknown type should be a validation error, got %v", err)
	}
}

// faultObjectRepo injects failures into selected repo calls.
type faultObjectRepo struct {
	repos.AstronomicalObjectRepo
	failSaveAfter int
	saves         int
	failDeleteFor cattypes.ObjectType
	deleteCalls   []cattypes.ObjectType
}

func (f *faultObjectRepo) Save(dbc dbctx.Context, obj *types.AstronomicalObject) error {
	f.saves++
	if f.failSaveAfter > 0 && f.saves > f.failSaveAfter {
		return errors.New("simulated write failure")
	}
	return f.AstronomicalObjectRepo.Save(dbc, obj)
}

func (f *faultObjectRepo) DeleteByTypeOlderThan(dbc dbctx.Context, typ cattypes.ObjectType, cutoff time.Time) (int64, error) {
	f.deleteCalls = append(f.deleteCalls, typ)
	if typ == f.failDeleteFor {
		return 0, errors.New("simulated delete failure")
	}
	return f.AstronomicalObjectRepo.DeleteByTypeOlderThan(dbc, typ, cutoff)
}

func TestBulkImportPartialFailure(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	inner := repos.NewAstronomicalObjectRepo(db, testutil.Logger(t))
	fault := &faultObjectRepo{AstronomicalObjectRepo: inner, failSaveAfter: 1}
	svc := NewCatalogService(db, testutil.Logger(t), fault, repos.NewDetectionRepo(db, testutil.Logger(t)))

	first, second := "BULK-1", "BULK-2"
	imported, err := svc.BulkImport(dbc, []*types.AstronomicalObject{
		{ObjectID: &first, RA: 10, Dec: 10, Type: cattypes.ObjectTypeStar},
		{ObjectID: &second, RA: 11, Dec: 11, Type: cattypes.ObjectTypeStar},
	})
	if err != nil {
		t.Fatalf("BulkImport: %v", err)
	}
	if imported != 1 {
		t.Fatalf("expected 1 import, got %d", imported)
	}

	persisted, err := inner.GetByObjectID(dbc, first)
	if err != nil || persisted == nil {
		t.Fatalf("first object should be persisted: %v, %+v", err, persisted)
	}
}

func TestCleanupTransientsPartialFailure(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	inner := repos.NewAstronomicalObjectRepo(db, testutil.Logger(t))
	fault := &faultObjectRepo{AstronomicalObjectRepo: inner, failDeleteFor: cattypes.ObjectTypeCosmicRay}
	svc := NewCatalogService(db, testutil.Logger(t), fault, repos.NewDetectionRepo(db, testutil.Logger(t)))

	cleaned, err := svc.CleanupTransients(dbc, 30)
	if err != nil {
		t.Fatalf("CleanupTransients: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected 1 category cleaned, got %d", cleaned)
	}
	if len(fault.deleteCalls) != 2 {
		t.Fatalf("both categories should be attempted, got %v", fault.deleteCalls)
	}
}

func TestCatalogStatistics(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	saveCatalogObject(t, svc, dbc, "S1", 10, 10, 12.0, cattypes.ObjectTypeStar)
	saveCatalogObject(t, svc, dbc, "S2", 20, 20, 14.0, cattypes.ObjectTypeStar)
	saveCatalogObject(t, svc, dbc, "G1", 30, 30, 18.0, cattypes.ObjectTypeGalaxy)

	stats, err := svc.Statistics(dbc, 24*time.Hour)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalObjects != 3 {
		t.Fatalf("expected 3 objects, got %d", stats.TotalObjects)
	}
	if stats.ObjectCountsByType[cattypes.ObjectTypeStar] != 2 {
		t.Fatalf("expected 2 stars, got %d", stats.ObjectCountsByType[cattypes.ObjectTypeStar])
	}
	starMag, ok := stats.MagnitudeStatistics[cattypes.ObjectTypeStar]
	if !ok {
		t.Fatal("expected star magnitude stats")
	}
	if math.Abs(starMag.Average-13.0) > 1e-9 || starMag.Minimum != 12.0 || starMag.Maximum != 14.0 {
		t.Fatalf("star magnitude stats wrong: %+v", starMag)
	}
	if stats.RecentObservationsCount != 3 {
		t.Fatalf("all 3 objects were just observed, got %d", stats.RecentObservationsCount)
	}
}

func TestFindNearbyUsesParallaxBound(t *testing.T) {
	svc, _, dbc := newCatalogService(t)

	near, far := "NEAR-1", "FAR-1"
	nearParallax, farParallax := 100.0, 2.0 // 10 pc and 500 pc
	if err := svc.SaveObject(dbc, &types.AstronomicalObject{ObjectID: &near, RA: 10, Dec: 10, ParallaxMas: &nearParallax, Type: cattypes.ObjectTypeStar}); err != nil {
		t.Fatalf("save near: %v", err)
	}
	if err := svc.SaveObject(dbc, &types.AstronomicalObject{ObjectID: &far, RA: 20, Dec: 20, ParallaxMas: &farParallax, Type: cattypes.ObjectTypeStar}); err != nil {
		t.Fatalf("save far: %v", err)
	}

	rows, err := svc.FindNearby(dbc, 100)
	if err != nil {
		t.Fatalf("FindNearby: %v", err)
	}
	if len(rows) != 1 || *rows[0].ObjectID != near {
		t.Fatalf("only the 10 pc object is within 100 pc, got %d rows", len(rows))
	}
}
