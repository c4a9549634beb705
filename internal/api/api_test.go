package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/mdlinks/internal/engine"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/testutil"
	"github.com/starford/mdlinks/internal/validate"
)

// testEnv sets up a temp markdown root, a started engine and the router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string, files map[string]string) (*engine.Engine, http.Handler) {
	t.Helper()
	root, fs := testutil.TestRoot(t)
	for rel, content := range files {
		testutil.WriteFile(t, root, rel, content)
	}
	eng := engine.New(fs, engine.Options{Logger: testutil.Logger()})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng, NewRouter(eng, authToken != "", authToken)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGraphEndpoint(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{
		"a.md": "[[b]]\n",
		"b.md": "[back](a.md)\n",
	})

	w := do(t, router, http.MethodGet, "/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var g models.Graph
	if err := json.Unmarshal(w.Body.Bytes(), &g); err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 2 {
		t.Fatalf("graph = %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	if g.Metadata.TotalEdges != 2 {
		t.Errorf("metadata = %+v", g.Metadata)
	}
}

func TestGetLinks(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{
		"topics/a.md": "[[b]] [[c|type:depends-on]]\n",
		"b.md":        "[[topics/a]]\n",
	})

	w := do(t, router, http.MethodGet, "/links/topics%2Fa.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp LinksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Path != "topics/a.md" || len(resp.Outgoing) != 2 || len(resp.Incoming) != 1 {
		t.Fatalf("links = %+v", resp)
	}

	w = do(t, router, http.MethodGet, "/links/topics/a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("extension-less path status = %d", w.Code)
	}
}

func TestGetLinks_NotFound(t *testing.T) {
	_, router := testEnv(t, "", nil)

	w := do(t, router, http.MethodGet, "/links/nope.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", w.Code)
	}
}

func TestAddAndRemoveLink(t *testing.T) {
	eng, router := testEnv(t, "", map[string]string{"a.md": "\n", "b.md": "\n"})

	body := AddLinkRequest{From: "a.md", To: "b.md", Type: models.EdgeTypedReference, RelationType: models.RelationSupersedes}
	w := do(t, router, http.MethodPost, "/links", body)
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	var edge models.Edge
	_ = json.Unmarshal(w.Body.Bytes(), &edge)
	if edge.ID != "a.md->b.md:supersedes" {
		t.Fatalf("edge = %+v", edge)
	}

	// Adding again returns the same edge.
	w = do(t, router, http.MethodPost, "/links", body)
	if w.Code != http.StatusOK || len(eng.GetGraph().Edges) != 1 {
		t.Fatalf("second add: status %d, edges %d", w.Code, len(eng.GetGraph().Edges))
	}

	w = do(t, router, http.MethodDelete, "/links?from=a.md&to=b.md&relationType=supersedes", nil)
	var removed RemoveLinkResponse
	_ = json.Unmarshal(w.Body.Bytes(), &removed)
	if w.Code != http.StatusOK || !removed.Removed {
		t.Fatalf("remove: status %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodDelete, "/links?from=a.md&to=b.md&relationType=supersedes", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &removed)
	if removed.Removed {
		t.Error("second removal should report false")
	}
}

func TestAddLink_BadRequests(t *testing.T) {
	_, router := testEnv(t, "", nil)

	cases := map[string]any{
		"self link":     AddLinkRequest{From: "a.md", To: "a.md", Type: models.EdgePlainReference},
		"unknown type":  AddLinkRequest{From: "a.md", To: "b.md", Type: "bogus"},
		"missing field": AddLinkRequest{From: "a.md", Type: models.EdgePlainReference},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := do(t, router, http.MethodPost, "/links", body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/links", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON = %d, want 400", w.Code)
	}
}

func TestRemoveLink_MissingParams(t *testing.T) {
	_, router := testEnv(t, "", nil)

	if w := do(t, router, http.MethodDelete, "/links?from=a.md", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{
		"x.md": "[[y]]\n",
		"y.md": "[[x]] [[missing]]\n",
		"w.md": "alone\n",
	})

	w := do(t, router, http.MethodGet, "/validate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var report validate.Report
	_ = json.Unmarshal(w.Body.Bytes(), &report)
	if !report.Valid {
		t.Errorf("warnings must not invalidate: %+v", report.Errors)
	}
	if len(report.BrokenLinks) != 1 || len(report.Cycles) != 1 || len(report.Orphans) != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{"a.md": "[[b]]\n"})

	w := do(t, router, http.MethodPost, "/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res RebuildResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Files != 1 || res.Nodes != 2 || res.Edges != 1 || res.BrokenLinks != 1 {
		t.Errorf("rebuild = %+v", res)
	}
}

func TestRebuild_NotReady(t *testing.T) {
	_, fs := testutil.TestRoot(t)
	eng := engine.New(fs, engine.Options{Logger: testutil.Logger()})
	router := NewRouter(eng, false, "")

	if w := do(t, router, http.MethodPost, "/rebuild", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/links", AddLinkRequest{From: "a.md", To: "b.md", Type: models.EdgePlainReference}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("add before start = %d, want 503", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/graph", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)

	if w := do(t, router, http.MethodGet, "/graph", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/graph", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "", nil)

	if w := do(t, router, http.MethodGet, "/validate", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}
