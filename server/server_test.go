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

	"github.com/becomeliminal/engram/config"
	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/embedder/mock"
	"github.com/becomeliminal/engram/memory/store/sqlite"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := sqlite.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := memory.NewEngine(store, mock.New())
	search := config.Search{DefaultThreshold: -1, DefaultLimit: 0, MaxTextLength: 10000}
	return New(engine, store, search, config.BackendSQLite, config.ProviderMock, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func saveFact(t *testing.T, s *Server, owner, text string) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/memory/save", map[string]string{
		"owner_id": owner,
		"text":     text,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save %q: status %d, body %s", text, w.Code, w.Body.String())
	}
	resp := decode[saveResponse](t, w)
	if resp.ID == "" {
		t.Fatal("save returned empty id")
	}
	return resp.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[map[string]string](t, w)
	if resp["status"] != "ok" || resp["backend"] != "sqlite" || resp["embedder"] != "mock" {
		t.Errorf("health = %v", resp)
	}
}

func TestSaveAndSearch(t *testing.T) {
	s := newTestServer(t)

	id := saveFact(t, s, "alex", "prefers oat milk in coffee")
	saveFact(t, s, "alex", "works at a bakery")
	saveFact(t, s, "blake", "allergic to peanuts")

	w := doJSON(t, s, http.MethodPost, "/memory/search", map[string]any{
		"owner_id": "alex",
		"query":    "prefers oat milk in coffee",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[searchResponse](t, w)

	if resp.Total != 2 {
		t.Fatalf("total = %d, want alex's 2 facts", resp.Total)
	}
	// The query matches one fact verbatim, so it ranks first with a score
	// of (near) one.
	if resp.Results[0].ID != id {
		t.Errorf("top result = %q, want the verbatim match %q", resp.Results[0].ID, id)
	}
	if resp.Results[0].Score < 0.999 {
		t.Errorf("verbatim match score = %v, want ~1", resp.Results[0].Score)
	}
	for _, r := range resp.Results {
		if r.Text == "allergic to peanuts" {
			t.Error("search leaked another owner's fact")
		}
	}
}

func TestSearch_ThresholdAndLimit(t *testing.T) {
	s := newTestServer(t)

	saveFact(t, s, "alex", "likes hiking")
	saveFact(t, s, "alex", "likes climbing")
	saveFact(t, s, "alex", "likes swimming")

	threshold := 0.999
	w := doJSON(t, s, http.MethodPost, "/memory/search", map[string]any{
		"owner_id":  "alex",
		"query":     "likes hiking",
		"threshold": threshold,
	})
	resp := decode[searchResponse](t, w)
	if resp.Total != 1 || resp.Results[0].Text != "likes hiking" {
		t.Errorf("strict threshold: got %+v, want only the verbatim match", resp.Results)
	}

	limit := 2
	w = doJSON(t, s, http.MethodPost, "/memory/search", map[string]any{
		"owner_id": "alex",
		"query":    "likes hiking",
		"limit":    limit,
	})
	resp = decode[searchResponse](t, w)
	if resp.Total != 2 {
		t.Errorf("limit=2: total = %d", resp.Total)
	}
}

func TestSearch_EmptyResultIsOK(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/memory/search", map[string]any{
		"owner_id": "nobody",
		"query":    "anything at all",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for empty result", w.Code)
	}
	resp := decode[searchResponse](t, w)
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0", resp.Total)
	}
	if !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("results should serialize as an empty array, got %s", w.Body.String())
	}
}

func TestSave_InvalidInput(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing owner", map[string]string{"text": "a fact"}},
		{"missing text", map[string]string{"owner_id": "alex"}},
		{"empty owner", map[string]string{"owner_id": "", "text": "a fact"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/memory/save", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			resp := decode[errorResponse](t, w)
			if resp.Error.Kind != "InvalidInput" {
				t.Errorf("kind = %q, want InvalidInput", resp.Error.Kind)
			}
		})
	}
}

func TestSave_MalformedJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/memory/save", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decode[errorResponse](t, w)
	if resp.Error.Kind != "InvalidInput" {
		t.Errorf("kind = %q, want InvalidInput", resp.Error.Kind)
	}
}

// failingEmbedder simulates an unreachable embedding model.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("model unavailable")
}

func (failingEmbedder) Dimensions() int { return 384 }

func TestErrorKindMapping(t *testing.T) {
	store, err := sqlite.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	engine := memory.NewEngine(store, failingEmbedder{})
	s := New(engine, store, config.Search{}, config.BackendSQLite, config.ProviderMock, nil)

	w := doJSON(t, s, http.MethodPost, "/memory/save", map[string]string{
		"owner_id": "alex",
		"text":     "a fact",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("embedding failure status = %d, want 502", w.Code)
	}
	resp := decode[errorResponse](t, w)
	if resp.Error.Kind != "EmbeddingFailure" {
		t.Errorf("kind = %q, want EmbeddingFailure", resp.Error.Kind)
	}

	// A closed store turns every append into a storage failure.
	store.Close()
	engine2 := memory.NewEngine(store, mock.New())
	s2 := New(engine2, store, config.Search{}, config.BackendSQLite, config.ProviderMock, nil)

	w = doJSON(t, s2, http.MethodPost, "/memory/save", map[string]string{
		"owner_id": "alex",
		"text":     "a fact",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("storage failure status = %d, want 500", w.Code)
	}
	resp = decode[errorResponse](t, w)
	if resp.Error.Kind != "StorageFailure" {
		t.Errorf("kind = %q, want StorageFailure", resp.Error.Kind)
	}
}

func TestList(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 5; i++ {
		saveFact(t, s, "alex", fmt.Sprintf("fact number %d", i))
	}

	w := doJSON(t, s, http.MethodGet, "/memory/list?owner_id=alex&page=1&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Facts      []listedFact `json:"facts"`
		Page       int          `json:"page"`
		TotalPages int          `json:"total_pages"`
		TotalItems int          `json:"total_items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.TotalItems != 5 || resp.TotalPages != 3 || len(resp.Facts) != 2 {
		t.Errorf("pagination = %+v", resp)
	}
	// Listing is newest first.
	if resp.Facts[0].Text != "fact number 4" {
		t.Errorf("first listed fact = %q, want the most recent", resp.Facts[0].Text)
	}

	w = doJSON(t, s, http.MethodGet, "/memory/list?owner_id=alex&limit=500", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized limit status = %d, want 400", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/memory/list", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing owner_id status = %d, want 400", w.Code)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t)

	saveFact(t, s, "alex", "fact one")
	saveFact(t, s, "alex", "fact two")
	saveFact(t, s, "blake", "fact three")

	w := doJSON(t, s, http.MethodGet, "/memory/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	stats := decode[memory.StoreStats](t, w)
	if stats.TotalFacts != 3 || stats.TotalOwners != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByOwner["alex"] != 2 {
		t.Errorf("alex count = %d, want 2", stats.ByOwner["alex"])
	}
}

func TestExport(t *testing.T) {
	s := newTestServer(t)

	saveFact(t, s, "alex", "first fact")
	saveFact(t, s, "alex", "second fact")

	w := doJSON(t, s, http.MethodGet, "/memory/export?owner_id=alex", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("json export status = %d", w.Code)
	}
	var resp struct {
		OwnerID string       `json:"owner_id"`
		Facts   []listedFact `json:"facts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OwnerID != "alex" || len(resp.Facts) != 2 {
		t.Errorf("export = %+v", resp)
	}

	w = doJSON(t, s, http.MethodGet, "/memory/export?owner_id=alex&format=markdown", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("markdown export status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "first fact") {
		t.Errorf("markdown export missing fact text: %s", w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/memory/export?owner_id=alex&format=xml", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", w.Code)
	}
}
