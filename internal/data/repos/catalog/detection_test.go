package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos/testutil"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
)

func TestDetectionRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewDetectionRepo(db, testutil.Logger(t))

	objectID := uuid.New()
	now := time.Now().UTC()
	var batch []*types.Detection
	for i := 0; i < 3; i++ {
		batch = append(batch, &types.Detection{
			ObjectID:   objectID,
			ObservedAt: now.Add(time.Duration(-i) * time.Hour),
			RA:         123.456,
			Dec:        45.678,
			Filter:     "R",
			Instrument: "WFC3",
		})
	}
	if err := repo.CreateBatch(dbc, batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	n, err := repo.CountByObject(dbc, objectID)
	if err != nil {
		t.Fatalf("CountByObject: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountByObject: expected 3, got %d", n)
	}

	// Newest first.
	rows, err := repo.ListByObject(dbc, objectID, 2)
	if err != nil {
		t.Fatalf("ListByObject: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ListByObject: expected 2, got %d", len(rows))
	}
	if rows[0].ObservedAt.Before(rows[1].ObservedAt) {
		t.Fatalf("ListByObject: expected newest first")
	}

	since, err := repo.ListByObjectSince(dbc, objectID, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("ListByObjectSince: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("ListByObjectSince: expected 2, got %d", len(since))
	}

	deleted, err := repo.DeleteByObject(dbc, objectID)
	if err != nil {
		t.Fatalf("DeleteByObject: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("DeleteByObject: expected 3, got %d", deleted)
	}
}

func TestCrossmatchRepoUpsert(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewCrossmatchRepo(db, testutil.Logger(t))

	objectID := uuid.New()
	first := &types.CatalogCrossmatch{
		ObjectID:         objectID,
		CatalogName:      "GAIA_DR3",
		CatalogObjectID:  "4472832130942575872",
		SeparationArcsec: 0.42,
		Confidence:       0.95,
		MatchMethod:      "nearest_neighbor",
	}
	if err := repo.Upsert(dbc, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A second match for the same catalog replaces the stored row.
	second := &types.CatalogCrossmatch{
		ObjectID:         objectID,
		CatalogName:      "GAIA_DR3",
		CatalogObjectID:  "4472832130942575872",
		SeparationArcsec: 0.12,
		Confidence:       0.99,
		MatchMethod:      "nearest_neighbor",
	}
	if err := repo.Upsert(dbc, second); err != nil {
		t.Fatalf("Upsert #2: %v", err)
	}

	other := &types.CatalogCrossmatch{
		ObjectID:         objectID,
		CatalogName:      "2MASS",
		CatalogObjectID:  "J12345678+1234567",
		SeparationArcsec: 0.8,
		Confidence:       0.7,
	}
	if err := repo.Upsert(dbc, other); err != nil {
		t.Fatalf("Upsert (other catalog): %v", err)
	}

	rows, err := repo.ListByObject(dbc, objectID)
	if err != nil {
		t.Fatalf("ListByObject: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ListByObject: expected 2 catalogs, got %d", len(rows))
	}

	gaia, err := repo.GetByObjectAndCatalog(dbc, objectID, "GAIA_DR3")
	if err != nil {
		t.Fatalf("GetByObjectAndCatalog: %v", err)
	}
	if gaia == nil || gaia.ID != first.ID || gaia.SeparationArcsec != 0.12 {
		t.Fatalf("GetByObjectAndCatalog: expected updated row, got %+v", gaia)
	}
}
