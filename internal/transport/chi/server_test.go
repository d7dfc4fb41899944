package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldsense/semindex"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	idx, err := semindex.New(
		semindex.WithStorePath(filepath.Join(t.TempDir(), "index.db")),
		semindex.WithModel("test-model", 128),
	)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	return NewServer(idx, zap.NewNop()).Router(nil)
}

func doJSON(t *testing.T, router http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIndexAndSearch(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/index", "u1", `{
		"documents": [
			{"id": "d1", "text": "loamy soil with high organic matter",
			 "metadata": {"type": "soil_analysis"}}
		]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/search", "u1",
		`{"query": "organic matter content", "threshold": 0.3, "limit": 5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []struct {
			Document struct {
				ID string `json:"id"`
			} `json:"document"`
			Similarity float64 `json:"similarity"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Document.ID != "d1" {
		t.Errorf("results = %+v, want exactly d1", resp.Results)
	}
}

func TestIndex_MissingOwnerHeader(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/index", "", `{"documents":[{"id":"d1","text":"x"}]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSearch_OwnerIsolation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/index", "alice", `{
		"documents": [{"id": "a1", "text": "clay soil near the creek",
		               "metadata": {"type": "soil_analysis"}}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/search", "bob",
		`{"query": "clay soil", "threshold": 0.1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var resp struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("bob saw %d of alice's documents", len(resp.Results))
	}
}

func TestStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var st struct {
		Initialized      bool `json:"initialized"`
		IndexingProgress int  `json:"indexingProgress"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
}

func TestImport_BadBlob(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/import", "", `{"wrong": "shape"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/index", "u1", `{
		"documents": [{"id": "d1", "text": "soil sample",
		               "metadata": {"type": "soil_analysis"}}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/export", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	blob := rec.Body.String()

	other := newTestRouter(t)
	rec = doJSON(t, other, http.MethodPost, "/import", "", blob)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode import response: %v", err)
	}
	if resp["imported"] != 1 {
		t.Errorf("imported = %d, want 1", resp["imported"])
	}
}
