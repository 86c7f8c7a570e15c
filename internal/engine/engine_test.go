package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"resume-backend/internal/cache"
	"resume-backend/internal/metadata"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

const (
	adminRole  = "role-admin"
	viewerRole = "role-viewer"
	editorRole = "role-editor"
)

// flakyBlobs wraps a blob store and fails deletes while broken is set.
type flakyBlobs struct {
	storage.FileStorage
	mu     sync.Mutex
	broken bool
}

func (f *flakyBlobs) setBroken(b bool) {
	f.mu.Lock()
	f.broken = b
	f.mu.Unlock()
}

func (f *flakyBlobs) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("disk unavailable")
	}
	return f.FileStorage.Delete(ctx, collection, id)
}

type testEngine struct {
	app     *fiber.App
	store   *store.MemoryStore
	reg     *metadata.Registry
	blobs   *flakyBlobs
	cleanup *BlobCleanup
	handler *Handler
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	ctx := context.Background()

	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadAll(reg, ""))

	s := store.NewMemoryStore()
	for _, tbl := range reg.AllTables() {
		require.NoError(t, s.EnsureCollection(ctx, tbl.Collection, tbl.Unique))
	}
	require.NoError(t, s.EnsureCollection(ctx, store.BlobCleanupCollection, nil))

	admin := metadata.FullAccessRole("Administrator", reg.Modules())
	admin.ID = adminRole
	viewer := &metadata.Role{
		ID:   viewerRole,
		Name: "Viewer",
		Permissions: []metadata.ModulePermission{
			{Module: "resumes", Read: true},
			{Module: "statuses", Read: true},
		},
	}
	editor := &metadata.Role{
		ID:   editorRole,
		Name: "Editor",
		Permissions: []metadata.ModulePermission{
			{Module: "resumes", Create: true, Read: true, Update: true, Delete: true},
			{Module: "users", Create: true, Read: true, Update: true},
		},
	}
	for _, r := range []*metadata.Role{admin, viewer, editor} {
		_, err := s.Insert(ctx, "roles", r.Document())
		require.NoError(t, err)
	}

	blobs := &flakyBlobs{FileStorage: storage.NewLocalStorage(t.TempDir(), 0)}
	roles := NewRoleResolver(s, reg, cache.NewMemoryCache(), time.Minute)
	cleanup := NewBlobCleanup(s, blobs, 2)
	h := NewHandler(s, reg, roles, blobs, cleanup)
	h.now = func() time.Time { return time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC) }

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(func(c *fiber.Ctx) error {
		if role := c.Get("X-Test-Role"); role != "" {
			c.Locals("user", &metadata.Principal{UserID: c.Get("X-Test-User", "u-test"), RoleID: role})
		}
		return c.Next()
	})
	RegisterTableRoutes(app, h)
	RegisterFileRoutes(app, NewFileHandler(h))

	return &testEngine{app: app, store: s, reg: reg, blobs: blobs, cleanup: cleanup, handler: h}
}

func (e *testEngine) do(t *testing.T, method, path, role string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	return e.send(t, req)
}

func (e *testEngine) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEngine) raw(t *testing.T, path, role string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Test-Role", role)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func (e *testEngine) upload(t *testing.T, path, role, filename, content string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Test-Role", role)
	return e.send(t, req)
}

func (e *testEngine) seed(t *testing.T, coll string, docs ...map[string]any) []map[string]any {
	t.Helper()
	out, err := e.store.InsertMany(context.Background(), coll, docs)
	require.NoError(t, err)
	return out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func urlEncode(s string) string {
	return url.QueryEscape(s)
}
