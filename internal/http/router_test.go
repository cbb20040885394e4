package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/calib"
	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	"github.com/halcyonsky/astropipe-backend/internal/data/repos/testutil"
	httpH "github.com/halcyonsky/astropipe-backend/internal/http/handlers"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)

	jobRepo := repos.NewProcessingJobRepo(tx, log)
	jobSvc := services.NewJobService(tx, log, jobRepo, services.NewNopJobNotifier())
	catalogSvc := services.NewCatalogService(tx, log,
		repos.NewAstronomicalObjectRepo(tx, log), repos.NewDetectionRepo(tx, log))
	workflowSvc := services.NewWorkflowService(tx, log, repos.NewWorkflowVersionRepo(tx, log))

	r := NewRouter(RouterConfig{
		Log:              log,
		HealthHandler:    httpH.NewHealthHandler(tx),
		JobHandler:       httpH.NewJobHandler(jobSvc),
		CatalogHandler:   httpH.NewCatalogHandler(catalogSvc),
		AlgorithmHandler: httpH.NewAlgorithmHandler(calib.NewRegistry()),
		WorkflowHandler:  httpH.NewWorkflowHandler(workflowSvc),
	})
	return r, tx
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Fatalf("expected status ok, got %v", got)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", map[string]any{
		"input_bucket":    "raw",
		"input_key":       "incoming/obs-9001.fits",
		"processing_type": "QUICK_LOOK",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	job := decode(t, w)["job"].(map[string]any)
	jobID, _ := job["job_id"].(string)
	if jobID == "" {
		t.Fatalf("submit response missing job_id: %v", job)
	}
	if job["status"] != "QUEUED" {
		t.Fatalf("expected QUEUED, got %v", job["status"])
	}

	w = doJSON(t, r, http.MethodGet, "/api/jobs/"+jobID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/jobs?processing_type=QUICK_LOOK", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if total := decode(t, w)["total"].(float64); total != 1 {
		t.Fatalf("expected 1 job, got %v", total)
	}

	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cancelled := decode(t, w)["job"].(map[string]any)
	if cancelled["status"] != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %v", cancelled["status"])
	}

	w = doJSON(t, r, http.MethodGet, "/api/jobs/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
}

func TestJobValidationOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", map[string]any{"input_bucket": "raw"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing input key, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/jobs/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/jobs/00000000-0000-0000-0000-000000000001", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCatalogEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/catalog/objects", map[string]any{
		"object_id": "HTTP-OBJ-1",
		"name":      "Test Star",
		"type":      "STAR",
		"ra":        130.5,
		"dec":       20.25,
		"magnitude": 12.3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save object: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/catalog/cone-search", map[string]any{
		"center_ra":     130.5,
		"center_dec":    20.25,
		"radius_arcsec": 60,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("cone search: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if total := decode(t, w)["total_results"].(float64); total != 1 {
		t.Fatalf("cone search should find the seeded star, got %v", total)
	}

	w = doJSON(t, r, http.MethodGet,
		fmt.Sprintf("/api/catalog/nearest?ra=%v&dec=%v&max_arcsec=60", 130.5, 20.25), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearest: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/catalog/nearest?ra=130.5&dec=20.25&type=PLANET", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("nearest with bogus type: expected 400, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/catalog/objects/HTTP-OBJ-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get object: expected 200, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/catalog/objects/NOPE", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get missing object: expected 404, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/catalog/statistics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("statistics: expected 200, got %d", w.Code)
	}
}

func TestAlgorithmEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/algorithms", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/algorithms/cosmic-ray-removal", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("step list: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/algorithms/warp-drive", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown step: expected 404, got %d", w.Code)
	}
}
