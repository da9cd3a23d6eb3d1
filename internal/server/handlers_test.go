package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/dalil/internal/app"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/evaluation"
	"github.com/hyperjump/dalil/internal/models"
)

type fakeBackend struct {
	queryErr   error
	ingestErr  error
	lastQuery  models.QueryRequest
	lastOffset int
	lastLimit  int
}

func (f *fakeBackend) Query(_ context.Context, req models.QueryRequest) (*models.AgentResponse, error) {
	f.lastQuery = req
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &models.AgentResponse{
		Action:    models.ActionRetrieveDocument,
		Answer:    "answer",
		Language:  "fr",
		Retrieved: []models.RetrievedResult{{Source: "cin.txt", Text: "t", Score: 0.9}},
		EvalHooks: map[string]any{"interaction_id": "id-1"},
	}, nil
}

func (f *fakeBackend) Ingest(context.Context) (*models.IngestResult, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &models.IngestResult{Documents: 3, Chunks: 7, IndexPath: "data/index/g1/index.json"}, nil
}

func (f *fakeBackend) Evaluate(context.Context) (*evaluation.Report, error) {
	return &evaluation.Report{Results: []evaluation.Result{{Case: "c", Expected: "refuse", Got: "refuse", Language: "fr", Status: "OK"}}}, nil
}

func (f *fakeBackend) Status(context.Context) (*app.Status, error) {
	return &app.Status{Documents: 3, Passages: 7}, nil
}

func (f *fakeBackend) Documents(_ context.Context, offset, limit int) ([]models.CatalogDocument, error) {
	f.lastOffset, f.lastLimit = offset, limit
	return []models.CatalogDocument{{ID: "doc-1", Source: "cin.txt", Passages: 2}}, nil
}

type recordingObserver struct {
	routes []string
}

func (r *recordingObserver) ObserveHTTPRequest(route string, code int, _ time.Duration) {
	r.routes = append(r.routes, fmt.Sprintf("%s %d", route, code))
}

func newTestServer(b Backend, opts ...Option) http.Handler {
	return NewServer(b, &config.ServerConfig{Host: "localhost", Port: 8080}, nil, opts...).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleQuery(t *testing.T) {
	b := &fakeBackend{}
	w := do(t, newTestServer(b), http.MethodPost, "/api/v1/query", `{"text":"renouveler CIN","top_k":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out models.QueryResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Action != models.ActionRetrieveDocument || len(out.RetrievedSources) != 1 || out.RetrievedSources[0] != "cin.txt" {
		t.Errorf("unexpected response: %+v", out)
	}
	if b.lastQuery.Text != "renouveler CIN" || b.lastQuery.TopK != 2 {
		t.Errorf("request not forwarded: %+v", b.lastQuery)
	}
}

func TestHandleQueryAlias(t *testing.T) {
	w := do(t, newTestServer(&fakeBackend{}), http.MethodPost, "/query", `{"text":"x"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleQueryInvalidBody(t *testing.T) {
	w := do(t, newTestServer(&fakeBackend{}), http.MethodPost, "/api/v1/query", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleQueryErrorKinds(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{fmt.Errorf("%w: empty", models.ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{fmt.Errorf("retrieve passages: %w", models.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("embed: %w", models.ErrProviderUnavailable), http.StatusServiceUnavailable, "provider_unavailable"},
		{fmt.Errorf("load: %w", models.ErrCorruptState), http.StatusInternalServerError, "corrupt_state"},
		{fmt.Errorf("generate answer: %w", models.ErrGenerationUnavailable), http.StatusBadGateway, "generation_unavailable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			w := do(t, newTestServer(&fakeBackend{queryErr: tt.err}), http.MethodPost, "/api/v1/query", `{"text":"x"}`)
			if w.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantCode)
			}
			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("kind: got %q, want %q", body.Kind, tt.wantKind)
			}
		})
	}
}

func TestHandleIngest(t *testing.T) {
	w := do(t, newTestServer(&fakeBackend{}), http.MethodPost, "/api/v1/ingest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Documents != 3 || out.Chunks != 7 {
		t.Errorf("unexpected result: %+v", out)
	}

	w = do(t, newTestServer(&fakeBackend{ingestErr: models.ErrNotFound}), http.MethodPost, "/ingest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("empty corpus status: got %d", w.Code)
	}
}

func TestHandleEvaluateAndStatus(t *testing.T) {
	h := newTestServer(&fakeBackend{})
	w := do(t, h, http.MethodPost, "/api/v1/evaluate", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"OK"`) {
		t.Errorf("evaluate: %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"passages":7`) {
		t.Errorf("status: %d %s", w.Code, w.Body.String())
	}
}

func TestHandleDocuments(t *testing.T) {
	b := &fakeBackend{}
	h := newTestServer(b)

	w := do(t, h, http.MethodGet, "/api/v1/documents", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if b.lastOffset != 0 || b.lastLimit != defaultDocumentLimit {
		t.Errorf("defaults: offset %d limit %d", b.lastOffset, b.lastLimit)
	}

	do(t, h, http.MethodGet, "/api/v1/documents?offset=5&limit=5000", "")
	if b.lastOffset != 5 || b.lastLimit != maxDocumentLimit {
		t.Errorf("clamp: offset %d limit %d", b.lastOffset, b.lastLimit)
	}

	for _, q := range []string{"offset=-1", "limit=0", "limit=abc"} {
		w := do(t, h, http.MethodGet, "/api/v1/documents?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d", q, w.Code)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	obs := &recordingObserver{}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("dalil_queries_total 0\n"))
	})
	h := newTestServer(&fakeBackend{}, WithMetrics(obs, metricsHandler))

	if w := do(t, h, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "dalil_queries_total") {
		t.Errorf("metrics: %d %s", w.Code, w.Body.String())
	}
	do(t, h, http.MethodGet, "/api/v1/documents?limit=2", "")

	want := []string{"/health 200", "/metrics 200", "/api/v1/documents 200"}
	if len(obs.routes) != len(want) {
		t.Fatalf("observed %v, want %v", obs.routes, want)
	}
	for i := range want {
		if obs.routes[i] != want[i] {
			t.Errorf("route %d: got %q, want %q", i, obs.routes[i], want[i])
		}
	}
}

func TestRateLimit(t *testing.T) {
	cfg := &config.ServerConfig{Host: "localhost", Port: 8080, RateLimit: 0.001, RateBurst: 1}
	h := NewServer(&fakeBackend{}, cfg, nil).Router()

	if w := do(t, h, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: got %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}
