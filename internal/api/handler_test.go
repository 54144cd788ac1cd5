package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/engine"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
	"github.com/DmitrySonora/chimera-ltm/internal/retention"
	"github.com/DmitrySonora/chimera-ltm/internal/search"
)

// fakeEngine answers with canned results so handlers can be exercised
// without any backing services.
type fakeEngine struct {
	evalResult    *engine.EvaluateResult
	searchResult  *engine.SearchResult
	cleanupResult *engine.CleanupResult
	summaries     *engine.SummariesResult

	gotEvaluate EvaluateCapture
	gotDryRun   bool
}

type EvaluateCapture struct {
	Req engine.EvaluateRequest
}

func (f *fakeEngine) EvaluateForMemory(ctx context.Context, req engine.EvaluateRequest) *engine.EvaluateResult {
	f.gotEvaluate.Req = req
	if req.UserID == "" {
		return &engine.EvaluateResult{ErrKind: engine.ErrKindInvalidInput}
	}
	return f.evalResult
}

func (f *fakeEngine) SearchMemory(ctx context.Context, userID string, mode search.Mode, p search.Params, limit, offset int) *engine.SearchResult {
	if !mode.Valid() {
		return &engine.SearchResult{ErrKind: engine.ErrKindInvalidInput}
	}
	return f.searchResult
}

func (f *fakeEngine) RunCleanup(ctx context.Context, dryRun bool) *engine.CleanupResult {
	f.gotDryRun = dryRun
	return f.cleanupResult
}

func (f *fakeEngine) Summaries(ctx context.Context, userID string, from, to time.Time, limit int) *engine.SummariesResult {
	return f.summaries
}

func (f *fakeEngine) MetricsSnapshot() map[string]int64 {
	return map[string]int64{"evaluations": 3}
}

func newTestServer(t *testing.T, eng *fakeEngine) *httptest.Server {
	t.Helper()
	h := NewHandler(eng, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{})

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string           `json:"status"`
		Metrics map[string]int64 `json:"metrics"`
	}
	decodeJSON(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Metrics["evaluations"] != 3 {
		t.Errorf("metrics = %v, want evaluations 3", body.Metrics)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	id := uuid.New()
	eng := &fakeEngine{
		evalResult: &engine.EvaluateResult{Admitted: true, Score: 0.91, Threshold: 0.6, EntryID: &id},
	}
	ts := newTestServer(t, eng)

	resp := postJSON(t, ts, "/api/memory/evaluate", engine.EvaluateRequest{
		UserID:   "u1",
		Emotions: map[string]float64{"joy": 0.9},
		Messages: []memory.Message{{Role: "user", Content: "hi", Timestamp: time.Now(), MessageID: "m1"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body engine.EvaluateResult
	decodeJSON(t, resp, &body)
	if !body.Admitted || body.EntryID == nil || *body.EntryID != id {
		t.Errorf("body = %+v, want admitted with entry id %v", body, id)
	}
	if eng.gotEvaluate.Req.UserID != "u1" {
		t.Errorf("engine saw user %q, want u1", eng.gotEvaluate.Req.UserID)
	}
}

func TestEvaluateEndpointRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{})

	resp := postJSON(t, ts, "/api/memory/evaluate", map[string]string{"text": "no user"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	raw, err := http.Post(ts.URL+"/api/memory/evaluate", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.StatusCode)
	}
	raw.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	eng := &fakeEngine{
		searchResult: &engine.SearchResult{Entries: []*memory.Entry{{ID: uuid.New(), UserID: "u1"}}},
	}
	ts := newTestServer(t, eng)

	resp := postJSON(t, ts, "/api/memory/search", searchRequest{
		UserID: "u1",
		Mode:   search.ModeRecency,
		Params: search.Params{Days: 30},
		Limit:  10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body engine.SearchResult
	decodeJSON(t, resp, &body)
	if len(body.Entries) != 1 {
		t.Errorf("entries = %d, want 1", len(body.Entries))
	}

	bad := postJSON(t, ts, "/api/memory/search", searchRequest{UserID: "u1", Mode: "fuzzy"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", bad.StatusCode)
	}
	bad.Body.Close()
}

func TestCleanupEndpoint(t *testing.T) {
	eng := &fakeEngine{
		cleanupResult: &engine.CleanupResult{Report: &retention.Report{Deleted: 7, SummariesCreated: 1}},
	}
	ts := newTestServer(t, eng)

	resp := postJSON(t, ts, "/api/memory/cleanup", cleanupRequest{DryRun: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body engine.CleanupResult
	decodeJSON(t, resp, &body)
	if body.Report.Deleted != 7 {
		t.Errorf("deleted = %d, want 7", body.Report.Deleted)
	}
	if !eng.gotDryRun {
		t.Error("dry_run flag not forwarded")
	}
}

func TestSummariesEndpoint(t *testing.T) {
	eng := &fakeEngine{
		summaries: &engine.SummariesResult{Summaries: []*memory.PeriodSummary{{
			ID: uuid.New(), UserID: "u1", MemoriesCount: 4,
		}}},
	}
	ts := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/memory/summaries?user_id=u1&from=2025-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body engine.SummariesResult
	decodeJSON(t, resp, &body)
	if len(body.Summaries) != 1 || body.Summaries[0].MemoriesCount != 4 {
		t.Errorf("summaries = %+v, want one with 4 memories", body.Summaries)
	}

	missing, err := http.Get(ts.URL + "/api/memory/summaries")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if missing.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want 400", missing.StatusCode)
	}
	missing.Body.Close()
}
