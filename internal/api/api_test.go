package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/varden/mindloom/internal/mapservice"
	"github.com/varden/mindloom/internal/session"
	"github.com/varden/mindloom/internal/testutil"
)

// testEnv sets up a temp workspace, SQLite DB, service, session manager, and
// router for testing. authToken == "" means auth disabled.
func testEnv(t *testing.T, authToken string) (*mapservice.Service, http.Handler) {
	t.Helper()
	svc, router, _ := testEnvWithWorkspace(t, authToken != "", authToken)
	return svc, router
}

func testEnvWithWorkspace(t *testing.T, authEnabled bool, authToken string) (*mapservice.Service, http.Handler, string) {
	t.Helper()

	workDir, store := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)

	svc := mapservice.NewService(store, db)
	sessions := session.NewManager(store, session.Options{EditorDebounce: 10 * time.Millisecond})
	t.Cleanup(sessions.CloseAll)

	router := NewRouter(svc, sessions, authEnabled, authToken, nil, workDir)
	return svc, router, workDir
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetMap(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/maps", map[string]string{
		"path": "roadmap.md", "content": "# Roadmap\n- First step",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/maps/roadmap.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var m MapDetail
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if m.Path != "roadmap.md" {
		t.Errorf("path = %q", m.Path)
	}
	if m.Title != "Roadmap" {
		t.Errorf("title = %q, want Roadmap", m.Title)
	}
	if m.NodeCount != 2 {
		t.Errorf("node_count = %d, want 2", m.NodeCount)
	}
}

func TestCreateMap_Duplicate(t *testing.T) {
	_, router := testEnv(t, "")

	body := map[string]string{"path": "dup.md", "content": "# Dup"}
	if w := doJSON(t, router, http.MethodPost, "/maps", body); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/maps", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateMap_NoStructure(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/maps", map[string]string{
		"path": "prose.md", "content": "just free text, no headings",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("structureless create = %d, want 400", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/maps", map[string]string{
		"path": "lock.md", "content": "# v1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var created MapDetail
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// Update with correct checksum.
	updateBody, _ := json.Marshal(map[string]string{"content": "# v2"})
	req := httptest.NewRequest(http.MethodPut, "/maps/lock.md", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Update with stale checksum → 409.
	req = httptest.NewRequest(http.MethodPut, "/maps/lock.md", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum) // stale now
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", rec.Code)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{"path": "nolock.md", "content": "# v1"})

	// Update without If-Match should succeed (no locking enforced).
	w := doJSON(t, router, http.MethodPut, "/maps/nolock.md", map[string]string{"content": "# v2"})
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
}

func TestDeleteMap(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{"path": "bye.md", "content": "# Gone"})

	if w := doJSON(t, router, http.MethodDelete, "/maps/bye.md", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/maps/bye.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListMaps(t *testing.T) {
	_, router := testEnv(t, "")

	for _, name := range []string{"a.md", "b.md"} {
		doJSON(t, router, http.MethodPost, "/maps", map[string]string{"path": name, "content": "# " + name})
	}

	w := doJSON(t, router, http.MethodGet, "/maps?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	maps := resp["maps"].([]any)
	if len(maps) != 2 {
		t.Errorf("len(maps) = %d, want 2", len(maps))
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{
		"path": "find.md", "content": "# Findable\n- uniquetoken here",
	})

	w := doJSON(t, router, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	results := resp["results"].([]any)
	if len(results) != 1 {
		t.Errorf("search results = %d, want 1", len(results))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")

	if w := doJSON(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestOutlineEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{
		"path": "tree.md", "content": "# Root\n- alpha\n  - beta",
	})

	w := doJSON(t, router, http.MethodGet, "/outline/tree.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("outline = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Items []mapservice.OutlineItem `json:"items"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Items) != 3 {
		t.Fatalf("outline items = %d, want 3", len(resp.Items))
	}
	if resp.Items[0].Text != "Root" || resp.Items[0].Level != 0 {
		t.Errorf("first item = %+v", resp.Items[0])
	}
	if resp.Items[2].Text != "beta" || resp.Items[2].Level != 2 {
		t.Errorf("third item = %+v", resp.Items[2])
	}
}

func TestGetMap_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	if w := doJSON(t, router, http.MethodGet, "/maps/nope.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing map = %d, want 404", w.Code)
	}
}

func TestUpdateMap_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPut, "/maps/ghost.md", map[string]string{"content": "# x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

// Session lifecycle tests.

func TestSessionLifecycle(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{
		"path": "sess.md", "content": "# Root\n- Child",
	})

	// Open.
	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"path": "sess.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("open session = %d, body = %s", w.Code, w.Body.String())
	}
	var state SessionStateResponse
	_ = json.Unmarshal(w.Body.Bytes(), &state)
	if len(state.Tree) != 1 || state.Tree[0].Text != "Root" {
		t.Fatalf("unexpected tree: %+v", state.Tree)
	}

	// Editor input is accepted asynchronously.
	w = doJSON(t, router, http.MethodPut, "/sessions/editor/sess.md", map[string]string{
		"content": "# Root\n- Child edited",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("editor input = %d", w.Code)
	}

	// Flush pushes it through the engine and to disk.
	if w = doJSON(t, router, http.MethodPost, "/sessions/flush/sess.md", nil); w.Code != http.StatusNoContent {
		t.Fatalf("flush = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/sessions/markdown/sess.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("markdown = %d", w.Code)
	}
	var md map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &md)
	if md["markdown"] != "# Root\n- Child edited" {
		t.Errorf("markdown = %q", md["markdown"])
	}

	// Line 2 resolves to the edited list node.
	w = doJSON(t, router, http.MethodGet, "/sessions/node/sess.md?line=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("node at line = %d", w.Code)
	}
	var node NodeAtLineResponse
	_ = json.Unmarshal(w.Body.Bytes(), &node)
	if node.ID == "" {
		t.Error("node id is empty")
	}

	// Close, then session endpoints 404.
	if w = doJSON(t, router, http.MethodDelete, "/sessions/sess.md", nil); w.Code != http.StatusNoContent {
		t.Fatalf("close = %d", w.Code)
	}
	if w = doJSON(t, router, http.MethodGet, "/sessions/tree/sess.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("tree after close = %d, want 404", w.Code)
	}
}

func TestOpenSession_MissingMap(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"path": "nope.md"})
	if w.Code != http.StatusNotFound {
		t.Errorf("open missing = %d, want 404", w.Code)
	}
}

func TestSessionEndpoints_NotOpen(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{"path": "cold.md", "content": "# Cold"})

	// Map exists but no session was opened.
	w := doJSON(t, router, http.MethodPut, "/sessions/editor/cold.md", map[string]string{"content": "# Cold 2"})
	if w.Code != http.StatusNotFound {
		t.Errorf("editor input without session = %d, want 404", w.Code)
	}
}

func TestDeleteMap_ClosesSession(t *testing.T) {
	_, router := testEnv(t, "")

	doJSON(t, router, http.MethodPost, "/maps", map[string]string{"path": "gone.md", "content": "# Gone"})
	if w := doJSON(t, router, http.MethodPost, "/sessions", map[string]string{"path": "gone.md"}); w.Code != http.StatusOK {
		t.Fatalf("open = %d", w.Code)
	}

	doJSON(t, router, http.MethodDelete, "/maps/gone.md", nil)

	if w := doJSON(t, router, http.MethodGet, "/sessions/tree/gone.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("session survived map delete, tree = %d", w.Code)
	}
}

// Auth tests.

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"path": "auth.md", "content": "# Auth"})
	req := httptest.NewRequest(http.MethodPost, "/maps", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := doJSON(t, router, http.MethodGet, "/maps", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/maps", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	if w := doJSON(t, router, http.MethodGet, "/maps", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret")

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	// SSE handler writes 200 and blocks, so cancel the context shortly.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// testEnvWithSSE creates a router with a stub SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()

	workDir, store := testutil.TestWorkspace(t)
	db := testutil.TestDB(t)

	svc := mapservice.NewService(store, db)
	sessions := session.NewManager(store, session.Options{})
	t.Cleanup(sessions.CloseAll)

	// Minimal SSE handler stub — writes headers and blocks until context done.
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})

	return NewRouter(svc, sessions, authEnabled, token, sseHandler, workDir)
}

// Asset tests.

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeAsset(t *testing.T) {
	_, router, workDir := testEnvWithWorkspace(t, false, "")

	w := uploadFile(t, router, "diagram.png", []byte("fake-png-data"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["filename"] != "diagram.png" {
		t.Errorf("filename = %v", resp["filename"])
	}
	if resp["markdown_image"] != "![diagram.png](/assets/diagram.png)" {
		t.Errorf("markdown_image = %v", resp["markdown_image"])
	}

	data, err := os.ReadFile(filepath.Join(workDir, "assets", "diagram.png"))
	if err != nil {
		t.Fatalf("file not on disk: %v", err)
	}
	if string(data) != "fake-png-data" {
		t.Errorf("content mismatch")
	}
}

func TestUploadAsset_NonImageRejected(t *testing.T) {
	_, router, workDir := testEnvWithWorkspace(t, false, "")

	for _, name := range []string{"notes.txt", "report.pdf", "tool.exe"} {
		w := uploadFile(t, router, name, []byte("payload"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("upload %q = %d, want 400", name, w.Code)
		}
		if _, err := os.Stat(filepath.Join(workDir, "assets", name)); !os.IsNotExist(err) {
			t.Errorf("rejected upload %q landed on disk", name)
		}
	}
}

func TestServeAsset_NotFound(t *testing.T) {
	ah := NewAssetHandler(t.TempDir())
	r := chi.NewRouter()
	r.Get("/assets/{filename}", ah.ServeFile)

	req := httptest.NewRequest(http.MethodGet, "/assets/nope.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing asset = %d, want 404", w.Code)
	}
}

func TestServeAsset_TraversalBlocked(t *testing.T) {
	ah := NewAssetHandler(t.TempDir())
	r := chi.NewRouter()
	r.Get("/assets/{filename}", ah.ServeFile)

	for _, name := range []string{"../secret.md", "../../etc/passwd"} {
		req := httptest.NewRequest(http.MethodGet, "/assets/"+name, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		// chi may not route the traversal paths at all (404), or our handler rejects (400).
		if w.Code == http.StatusOK {
			t.Errorf("traversal %q should not return 200", name)
		}
	}
}

func TestUploadAsset_MissingFileField(t *testing.T) {
	_, router, _ := testEnvWithWorkspace(t, false, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}
