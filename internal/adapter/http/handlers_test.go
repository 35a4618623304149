package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	cfhttp "github.com/dereadi/thermal-memory/internal/adapter/http"
	"github.com/dereadi/thermal-memory/internal/adapter/memstore"
	"github.com/dereadi/thermal-memory/internal/config"
	"github.com/dereadi/thermal-memory/internal/domain"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/service"
)

type testServer struct {
	handler http.Handler
	store   *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Federation.Triad = "cherokee"

	store := memstore.New()
	svc := service.NewThermalService(store, memory.DefaultThermalPolicy(), nil)
	h := &cfhttp.Handlers{Thermal: svc}
	return &testServer{
		handler: cfhttp.NewRouter(&cfg, cfhttp.RouterDeps{Handlers: h}),
		store:   store,
	}
}

func (s *testServer) do(t *testing.T, method, path, triad string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if triad != "" {
		req.Header.Set("X-Triad-ID", triad)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) write(t *testing.T, triad string, req map[string]any) string {
	t.Helper()
	rec := s.do(t, "POST", "/api/v1/memories", triad, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("write: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp["id"]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %s)", err, rec.Body.String())
	}
	return v
}

func TestWriteMemory_DefaultsSourceTriadToRequester(t *testing.T) {
	s := newTestServer(t)
	id := s.write(t, "bigmac", map[string]any{"original_content": "hello", "temperature": 20})

	rec := s.do(t, "GET", "/api/v1/memories/"+id, "bigmac", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[memory.Record](t, rec)
	if got.SourceTriad != "bigmac" || got.AccessLevel != memory.AccessTriadOnly {
		t.Errorf("unexpected record: %+v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestWriteMemory_Invalid(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body any
	}{
		{"out of range", map[string]any{"original_content": "x", "temperature": 150}},
		{"empty content", map[string]any{"temperature": 10}},
		{"nested metadata", map[string]any{"original_content": "x", "metadata": map[string]any{"k": map[string]any{}}}},
		{"not json", "plain string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/v1/memories", "cherokee", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestQueryMemories_VisibilityAcrossTriads(t *testing.T) {
	s := newTestServer(t)
	s.write(t, "cherokee", map[string]any{"memory_hash": "h1", "original_content": "public", "temperature": 60, "access_level": "PUBLIC"})
	s.write(t, "cherokee", map[string]any{"original_content": "private", "temperature": 65})

	rec := s.do(t, "GET", "/api/v1/memories?min_temp=50", "bigmac", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	recs := decode[[]memory.Record](t, rec)
	if len(recs) != 1 || recs[0].MemoryHash != "h1" {
		t.Fatalf("bigmac sees %+v, want only h1", recs)
	}

	rec = s.do(t, "GET", "/api/v1/memories?min_temp=50", "cherokee", nil)
	if recs := decode[[]memory.Record](t, rec); len(recs) != 2 {
		t.Fatalf("cherokee sees %d records, want 2", len(recs))
	}
}

func TestQueryMemories_BadParams(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{"min_temp=hot", "limit=many", "min_temp=80&max_temp=20", "max_temp=NaN"} {
		rec := s.do(t, "GET", "/api/v1/memories?"+q, "cherokee", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestQueryMemories_ExplicitZeroUpperBound(t *testing.T) {
	s := newTestServer(t)
	s.write(t, "cherokee", map[string]any{"original_content": "warm", "temperature": 50, "access_level": "PUBLIC"})

	rec := s.do(t, "GET", "/api/v1/memories?min_temp=0&max_temp=0", "cherokee", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if recs := decode[[]memory.Record](t, rec); len(recs) != 0 {
		t.Fatalf("max_temp=0 returned %d records", len(recs))
	}
}

func TestQueryMemories_EmptyIsArray(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/api/v1/memories/sacred", "cherokee", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestTouchAndPromote(t *testing.T) {
	s := newTestServer(t)
	id := s.write(t, "cherokee", map[string]any{"original_content": "stone", "temperature": 50, "access_level": "PUBLIC"})

	rec := s.do(t, "POST", "/api/v1/memories/"+id+"/touch", "bigmac", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("touch: expected 200, got %d", rec.Code)
	}
	if got := decode[memory.Record](t, rec); got.AccessCount != 1 {
		t.Errorf("access_count = %d, want 1", got.AccessCount)
	}

	rec = s.do(t, "POST", "/api/v1/memories/"+id+"/promote", "cherokee", map[string]any{"rationale_tags": []string{"elder"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[memory.Record](t, rec)
	if !got.SacredPattern || got.Temperature < memory.PromotionPin || got.AccessLevel != memory.AccessSacred {
		t.Errorf("unexpected promoted record: %+v", got)
	}

	// Promote without a body is allowed.
	rec = s.do(t, "POST", "/api/v1/memories/"+id+"/promote", "cherokee", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("promote without body: expected 200, got %d", rec.Code)
	}
}

func TestTouch_InvisibleIsNotFound(t *testing.T) {
	s := newTestServer(t)
	id := s.write(t, "cherokee", map[string]any{"original_content": "private", "temperature": 50})

	rec := s.do(t, "POST", "/api/v1/memories/"+id+"/touch", "bigmac", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	stored, _ := s.store.GetMemory(t.Context(), id)
	if stored.AccessCount != 0 {
		t.Error("an invisible record must not be touched")
	}
}

func TestGetMemory_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/api/v1/memories/nope", "cherokee", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransientStoreErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryAfter string
	}{
		{"pool exhausted", domain.ErrPoolExhausted, "1"},
		{"store unavailable", domain.ErrStoreUnavailable, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.store.SetErr(tt.err)

			rec := s.do(t, "POST", "/api/v1/memories", "cherokee", map[string]any{"original_content": "x", "temperature": 10})
			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestServer(t)
	s.write(t, "cherokee", map[string]any{"original_content": "hot", "temperature": 95})

	rec := s.do(t, "GET", "/api/v1/stats", "", nil)
	st := decode[memory.Stats](t, rec)
	if st.Total != 1 || st.ByStage[memory.StageWhiteHot] != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}

	rec = s.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	s.store.SetErr(domain.ErrStoreUnavailable)
	rec = s.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with store down: expected 503, got %d", rec.Code)
	}
}

func TestMalformedTriadRejected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/api/v1/memories", "thermal.>", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
