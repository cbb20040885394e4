package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos/testutil"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	jobtypes "github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
)

func seedJob(t *testing.T, repo ProcessingJobRepo, dbc dbctx.Context, status jobtypes.Status, priority int, createdAt time.Time) *types.ProcessingJob {
	t.Helper()
	job := &types.ProcessingJob{
		JobID:          uuid.New(),
		InputBucket:    "astro-data-raw",
		InputKey:       "raw/obs-001.fits",
		Status:         status,
		ProcessingType: jobtypes.ProcessingFullCalibration,
		Priority:       priority,
		MaxRetries:     3,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if err := repo.Create(dbc, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestProcessingJobRepoClaimOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProcessingJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	low := seedJob(t, repo, dbc, jobtypes.StatusQueued, 7, now.Add(-3*time.Hour))
	urgent := seedJob(t, repo, dbc, jobtypes.StatusQueued, 1, now.Add(-1*time.Hour))
	oldLow := seedJob(t, repo, dbc, jobtypes.StatusQueued, 7, now.Add(-5*time.Hour))

	claim1, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #1: %v", err)
	}
	if claim1 == nil || claim1.ID != urgent.ID {
		t.Fatalf("ClaimNextRunnable #1: expected urgent job, got %+v", claim1)
	}
	if claim1.Status != jobtypes.StatusRunning || claim1.StartedAt == nil {
		t.Fatalf("ClaimNextRunnable #1: expected RUNNING with startedAt, got %+v", claim1)
	}

	claim2, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #2: %v", err)
	}
	if claim2 == nil || claim2.ID != oldLow.ID {
		t.Fatalf("ClaimNextRunnable #2: expected oldest low-priority job, got %+v", claim2)
	}

	claim3, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #3: %v", err)
	}
	if claim3 == nil || claim3.ID != low.ID {
		t.Fatalf("ClaimNextRunnable #3: expected remaining queued job, got %+v", claim3)
	}

	claim4, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #4: %v", err)
	}
	if claim4 != nil {
		t.Fatalf("ClaimNextRunnable #4: expected nil, got %+v", claim4)
	}
}

func TestProcessingJobRepoRetryBackoff(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProcessingJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()

	// Backoff window still open: not claimable.
	waiting := seedJob(t, repo, dbc, jobtypes.StatusRetry, 5, now.Add(-time.Hour))
	future := now.Add(time.Hour)
	if err := repo.UpdateFields(dbc, waiting.ID, map[string]interface{}{
		"retry_count":     1,
		"next_attempt_at": future,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	claim, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (waiting): %v", err)
	}
	if claim != nil {
		t.Fatalf("ClaimNextRunnable (waiting): expected nil, got %+v", claim)
	}

	// Window elapsed: claimable.
	past := now.Add(-time.Minute)
	if err := repo.UpdateFields(dbc, waiting.ID, map[string]interface{}{"next_attempt_at": past}); err != nil {
		t.Fatalf("UpdateFields (elapse): %v", err)
	}
	claim, err = repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (elapsed): %v", err)
	}
	if claim == nil || claim.ID != waiting.ID {
		t.Fatalf("ClaimNextRunnable (elapsed): expected %v, got %+v", waiting.ID, claim)
	}

	// Retries exhausted: never claimable again.
	if err := repo.UpdateFields(dbc, waiting.ID, map[string]interface{}{
		"status":          jobtypes.StatusRetry,
		"retry_count":     3,
		"next_attempt_at": past,
		"heartbeat_at":    nil,
	}); err != nil {
		t.Fatalf("UpdateFields (exhaust): %v", err)
	}
	claim, err = repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (exhausted): %v", err)
	}
	if claim != nil {
		t.Fatalf("ClaimNextRunnable (exhausted): expected nil, got %+v", claim)
	}
}

func TestProcessingJobRepoStaleRunningReclaim(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProcessingJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	stale := seedJob(t, repo, dbc, jobtypes.StatusRunning, 5, now.Add(-2*time.Hour))
	deadHeartbeat := now.Add(-30 * time.Minute)
	if err := repo.UpdateFields(dbc, stale.ID, map[string]interface{}{"heartbeat_at": deadHeartbeat}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	// Fresh threshold: still considered alive.
	claim, err := repo.ClaimNextRunnable(dbc, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (alive): %v", err)
	}
	if claim != nil {
		t.Fatalf("ClaimNextRunnable (alive): expected nil, got %+v", claim)
	}

	claim, err = repo.ClaimNextRunnable(dbc, 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (stale): %v", err)
	}
	if claim == nil || claim.ID != stale.ID {
		t.Fatalf("ClaimNextRunnable (stale): expected %v, got %+v", stale.ID, claim)
	}

	if err := repo.Heartbeat(dbc, stale.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	got, err := repo.GetByJobID(dbc, stale.JobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if got == nil || got.HeartbeatAt == nil || !got.HeartbeatAt.After(deadHeartbeat) {
		t.Fatalf("Heartbeat: expected refreshed heartbeat, got %+v", got)
	}
}

func TestProcessingJobRepoCancelGuard(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProcessingJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	job := seedJob(t, repo, dbc, jobtypes.StatusRunning, 5, now)

	ok, err := repo.CancelByJobID(dbc, job.JobID)
	if err != nil {
		t.Fatalf("CancelByJobID: %v", err)
	}
	if !ok {
		t.Fatalf("CancelByJobID: expected cancellation to apply")
	}

	// The cancelled row refuses worker completion updates.
	applied, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID,
		[]jobtypes.Status{jobtypes.StatusCancelled},
		map[string]interface{}{"status": jobtypes.StatusCompleted})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if applied {
		t.Fatalf("UpdateFieldsUnlessStatus: expected cancelled row to reject update")
	}

	got, err := repo.GetByJobID(dbc, job.JobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if got.Status != jobtypes.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}

	// Cancelling again is a no-op.
	ok, err = repo.CancelByJobID(dbc, job.JobID)
	if err != nil {
		t.Fatalf("CancelByJobID #2: %v", err)
	}
	if ok {
		t.Fatalf("CancelByJobID #2: expected no rows affected")
	}
}

func TestProcessingJobRepoCompletedSteps(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProcessingJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	job := seedJob(t, repo, dbc, jobtypes.StatusRunning, 5, now)

	steps := []jobtypes.Step{jobtypes.StepDownloadInput, jobtypes.StepValidateFITS, jobtypes.StepDarkSubtraction}
	for i, s := range steps {
		err := repo.AppendCompletedStep(dbc, job.ID, &types.ProcessingJobStep{
			StepName:     s,
			Seq:          i,
			ArtifactPath: "sessions/s1/" + string(s) + "/frame.fits",
			DurationMs:   int64(100 + i),
		})
		if err != nil {
			t.Fatalf("AppendCompletedStep %s: %v", s, err)
		}
	}

	// Re-appending a committed step does not duplicate it.
	err := repo.AppendCompletedStep(dbc, job.ID, &types.ProcessingJobStep{
		StepName: jobtypes.StepValidateFITS,
		Seq:      1,
	})
	if err != nil {
		t.Fatalf("AppendCompletedStep (dup): %v", err)
	}

	got, err := repo.GetByJobID(dbc, job.JobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if len(got.CompletedSteps) != 3 {
		t.Fatalf("expected 3 completed steps, got %d", len(got.CompletedSteps))
	}
	for i, s := range steps {
		if got.CompletedSteps[i].StepName != s {
			t.Fatalf("step %d: expected %s, got %s", i, s, got.CompletedSteps[i].StepName)
		}
	}
	if !got.HasCompletedStep(jobtypes.StepDarkSubtraction) {
		t.Fatalf("HasCompletedStep: expected DARK_SUBTRACTION committed")
	}
	if got.HasCompletedStep(jobtypes.StepFlatCorrection) {
		t.Fatalf("HasCompletedStep: FLAT_CORRECTION not committed yet")
	}
}

func TestProcessingJobRepoRetryAndCounts(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProcessingJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	failed := seedJob(t, repo, dbc, jobtypes.StatusFailed, 5, now)
	seedJob(t, repo, dbc, jobtypes.StatusQueued, 5, now)
	seedJob(t, repo, dbc, jobtypes.StatusCompleted, 5, now)

	counts, err := repo.CountByStatus(dbc)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[jobtypes.StatusFailed] != 1 || counts[jobtypes.StatusQueued] != 1 || counts[jobtypes.StatusCompleted] != 1 {
		t.Fatalf("CountByStatus: unexpected counts %v", counts)
	}

	ok, err := repo.RetryByJobID(dbc, failed.JobID)
	if err != nil {
		t.Fatalf("RetryByJobID: %v", err)
	}
	if !ok {
		t.Fatalf("RetryByJobID: expected requeue")
	}
	got, err := repo.GetByJobID(dbc, failed.JobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if got.Status != jobtypes.StatusQueued || got.RetryCount != 0 || got.NextAttemptAt != nil {
		t.Fatalf("RetryByJobID: expected clean QUEUED row, got %+v", got)
	}

	// Only FAILED rows are retryable through this path.
	ok, err = repo.RetryByJobID(dbc, failed.JobID)
	if err != nil {
		t.Fatalf("RetryByJobID #2: %v", err)
	}
	if ok {
		t.Fatalf("RetryByJobID #2: expected no-op on QUEUED row")
	}
}

func TestWorkflowVersionRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewWorkflowVersionRepo(db, testutil.Logger(t))

	mk := func(name, version string, active, deflt bool, split float64) *types.WorkflowVersion {
		wv := &types.WorkflowVersion{
			Name:                   name,
			Version:                version,
			ProcessingType:         string(jobtypes.ProcessingFullCalibration),
			IsActive:               active,
			IsDefault:              deflt,
			TrafficSplitPercentage: split,
		}
		if err := repo.Create(dbc, wv); err != nil {
			t.Fatalf("Create %s %s: %v", name, version, err)
		}
		return wv
	}

	a := mk("cosmic-ray-study", "v1.0", true, false, 70)
	b := mk("cosmic-ray-study", "v2.0", true, false, 30)
	mk("cosmic-ray-study", "v0.9", false, false, 100)
	def := mk("default-workflow", "v1.0", true, true, 100)

	active, err := repo.ListActive(dbc, "cosmic-ray-study", string(jobtypes.ProcessingFullCalibration))
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 || active[0].ID != a.ID || active[1].ID != b.ID {
		t.Fatalf("ListActive: expected [v1.0 v2.0], got %d rows", len(active))
	}

	gotDef, err := repo.GetDefault(dbc, string(jobtypes.ProcessingFullCalibration))
	if err != nil {
		t.Fatalf("GetDefault: %v", err)
	}
	if gotDef == nil || gotDef.ID != def.ID {
		t.Fatalf("GetDefault: expected default-workflow, got %+v", gotDef)
	}

	if err := repo.RecordUsage(dbc, a.ID); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := repo.RecordUsage(dbc, a.ID); err != nil {
		t.Fatalf("RecordUsage #2: %v", err)
	}
	gotA, err := repo.GetByID(dbc, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if gotA.UsageCount != 2 || gotA.LastUsedAt == nil {
		t.Fatalf("RecordUsage: expected usage 2 with lastUsedAt, got %+v", gotA)
	}

	perf := 0.91
	if err := repo.UpdateScores(dbc, a.ID, &perf, nil); err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}
	gotA, _ = repo.GetByID(dbc, a.ID)
	if gotA.PerformanceScore == nil || *gotA.PerformanceScore != perf {
		t.Fatalf("UpdateScores: expected performance %v, got %+v", perf, gotA.PerformanceScore)
	}
	if gotA.QualityScore != nil {
		t.Fatalf("UpdateScores: quality should stay unset")
	}
}
