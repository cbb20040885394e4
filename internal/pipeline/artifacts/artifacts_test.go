package artifacts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/platform/objectstore"
)

func newTestStore(t *testing.T) (*Store, *objectstore.MemoryStore) {
	t.Helper()
	mem := objectstore.NewMemoryStore()
	s := NewStore(mem, "astro-intermediate", logger.NewNop())
	base := time.Date(2024, 9, 28, 12, 0, 0, 0, time.UTC)
	step := 0
	s.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	return s, mem
}

func TestStoreIntermediateKeying(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)

	full, err := s.StoreIntermediate(ctx, "sess-1", "dark-subtraction", "raw-data/obs-42.fits", []byte("frame"), "", "")
	if err != nil {
		t.Fatalf("StoreIntermediate: %v", err)
	}
	if !strings.HasPrefix(full, "astro-intermediate/sessions/sess-1/dark-subtraction/") {
		t.Fatalf("unexpected path %q", full)
	}
	if !strings.HasSuffix(full, "/obs-42.fits") {
		t.Fatalf("expected original basename, got %q", full)
	}

	// Missing extension gets the canonical one appended.
	full, err = s.StoreIntermediate(ctx, "sess-1", "flat-correction", "raw-data/obs-43", []byte("frame"), "", "")
	if err != nil {
		t.Fatalf("StoreIntermediate: %v", err)
	}
	if !strings.HasSuffix(full, "/obs-43.fits") {
		t.Fatalf("expected appended extension, got %q", full)
	}

	// customPath supersedes structured keys; trailing slash appends the name.
	full, err = s.StoreIntermediate(ctx, "sess-1", "flat-correction", "raw-data/obs-44.fits", []byte("frame"), "other-bucket", "scratch/custom/")
	if err != nil {
		t.Fatalf("StoreIntermediate (custom): %v", err)
	}
	if full != "other-bucket/scratch/custom/obs-44.fits" {
		t.Fatalf("custom path: got %q", full)
	}
	if !mem.Exists(ctx, "other-bucket", "scratch/custom/obs-44.fits") {
		t.Fatalf("custom path object missing")
	}

	if _, err := s.StoreIntermediate(ctx, "", "dark-subtraction", "x.fits", nil, "", ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("missing session should fail validation, got %v", err)
	}
}

func TestPromoteFinal(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)

	full, err := s.StoreIntermediate(ctx, "sess-2", "image-stacking", "raw-data/obs-50.fits", []byte("stacked"), "", "")
	if err != nil {
		t.Fatalf("seed intermediate: %v", err)
	}

	final, err := s.PromoteFinal(ctx, full, "astro-data-processed", "calibrated/2024-09-28/obs-50.fits")
	if err != nil {
		t.Fatalf("PromoteFinal: %v", err)
	}
	if final != "astro-data-processed/calibrated/2024-09-28/obs-50.fits" {
		t.Fatalf("final path: got %q", final)
	}
	data, err := mem.Get(ctx, "astro-data-processed", "calibrated/2024-09-28/obs-50.fits")
	if err != nil || string(data) != "stacked" {
		t.Fatalf("final object: %q %v", data, err)
	}

	// finalPath without the extension takes the original basename.
	final, err = s.PromoteFinal(ctx, full, "astro-data-processed", "calibrated/run-7")
	if err != nil {
		t.Fatalf("PromoteFinal (dir): %v", err)
	}
	if !strings.HasSuffix(final, "/obs-50.fits") {
		t.Fatalf("expected basename appended, got %q", final)
	}

	// A missing intermediate is fatal for the promotion.
	_, err = s.PromoteFinal(ctx, "astro-intermediate/sessions/sess-2/none/20240101-000000/x.fits", "astro-data-processed", "y.fits")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestCleanupBestEffort(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t)

	p1, _ := s.StoreIntermediate(ctx, "sess-3", "dark-subtraction", "a.fits", []byte("1"), "", "")
	p2, _ := s.StoreIntermediate(ctx, "sess-3", "flat-correction", "b.fits", []byte("2"), "", "")

	mem.FailNext("delete", errors.New("backend hiccup"))
	deleted := s.Cleanup(ctx, []string{p1, "malformed", p2})
	// First delete fails, malformed is skipped, second succeeds.
	if deleted != 1 {
		t.Fatalf("Cleanup: expected 1 deletion, got %d", deleted)
	}
}

func TestListAndCleanupSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if _, err := s.StoreIntermediate(ctx, "sess-4", "dark-subtraction", "obs.fits", []byte("1"), "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.StoreIntermediate(ctx, "sess-4", "flat-correction", "obs.fits", []byte("2"), "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.StoreIntermediate(ctx, "sess-4", "final", "obs.fits", []byte("3"), "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	infos, err := s.ListSession(ctx, "sess-4")
	if err != nil {
		t.Fatalf("ListSession: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("ListSession: expected 3, got %d", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i].Timestamp.Before(infos[i-1].Timestamp) {
			t.Fatalf("ListSession: not sorted by timestamp")
		}
	}
	if infos[0].StepType != "dark-subtraction" || infos[2].StepType != "final" {
		t.Fatalf("ListSession: unexpected order %+v", infos)
	}
	if !infos[2].Final {
		t.Fatalf("ListSession: final entry not flagged")
	}
	if infos[0].Final {
		t.Fatalf("ListSession: non-final entry flagged")
	}

	removed, err := s.CleanupSession(ctx, "sess-4", true)
	if err != nil {
		t.Fatalf("CleanupSession: %v", err)
	}
	if removed != 2 {
		t.Fatalf("CleanupSession(keepFinal): expected 2 removed, got %d", removed)
	}
	infos, _ = s.ListSession(ctx, "sess-4")
	if len(infos) != 1 || !infos[0].Final {
		t.Fatalf("CleanupSession: final should survive, got %+v", infos)
	}

	removed, err = s.CleanupSession(ctx, "sess-4", false)
	if err != nil {
		t.Fatalf("CleanupSession (all): %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupSession (all): expected 1 removed, got %d", removed)
	}
}
