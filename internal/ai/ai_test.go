package ai

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-backend/internal/cache"
	"resume-backend/internal/engine"
	"resume-backend/internal/metadata"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

// fakeLLM serves chat completions with a canned answer and records the
// last request.
type fakeLLM struct {
	srv      *httptest.Server
	answer   string
	status   int
	calls    atomic.Int32
	lastBody []byte
}

func newFakeLLM(t *testing.T, answer string) *fakeLLM {
	f := &fakeLLM{answer: answer, status: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.lastBody, _ = io.ReadAll(r.Body)
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
			return
		}
		resp, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": f.answer}}},
		})
		_, _ = w.Write(resp)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

type uploadFixture struct {
	app   *fiber.App
	reg   *metadata.Registry
	store *store.MemoryStore
	blobs storage.FileStorage
}

func newUploadFixture(t *testing.T, llm *fakeLLM) *uploadFixture {
	t.Helper()
	ctx := context.Background()
	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadAll(reg, ""))
	s := store.NewMemoryStore()
	for _, tbl := range reg.AllTables() {
		require.NoError(t, s.EnsureCollection(ctx, tbl.Collection, tbl.Unique))
	}

	admin := metadata.FullAccessRole("Administrator", reg.Modules())
	admin.ID = "role-admin"
	viewer := &metadata.Role{ID: "role-viewer", Name: "Viewer", Permissions: []metadata.ModulePermission{{Module: "resumes", Read: true}}}
	recruiter := &metadata.Role{ID: "role-recruiter", Name: "Recruiter", Permissions: []metadata.ModulePermission{{Module: "resumes", Create: true, Read: true}}}
	for _, r := range []*metadata.Role{admin, viewer, recruiter} {
		_, err := s.Insert(ctx, "roles", r.Document())
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, "prompts", map[string]any{"name": "Default", "content": "Extract the resume.", "active": true})
	require.NoError(t, err)

	blobs := storage.NewLocalStorage(t.TempDir(), 1024)
	tables := engine.NewHandler(s, reg,
		engine.NewRoleResolver(s, reg, cache.NewMemoryCache(), time.Minute),
		blobs, engine.NewBlobCleanup(s, blobs, 3))

	var fallback *Provider
	if llm != nil {
		fallback = NewProvider(llm.srv.URL, "sk-test", "test-model", 5*time.Second)
	}
	h := NewHandler(tables, s, blobs, fallback, 5*time.Second)

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		if role := c.Get("X-Test-Role"); role != "" {
			c.Locals("user", &metadata.Principal{UserID: "u1", RoleID: role})
		}
		return c.Next()
	})
	RegisterRoutes(app, h)
	return &uploadFixture{app: app, reg: reg, store: s, blobs: blobs}
}

func (f *uploadFixture) upload(t *testing.T, role, filename, content string, fields map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/resumes/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Test-Role", role)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

const adaJSON = `{"name":"Ada Lovelace","contact":{"email":"ada@example.com","phone":null},"skills":["math"],"experienceYears":12,"favouriteColour":"green","status":"Hired"}`

func TestUpload_CreatesRecordAndBlob(t *testing.T) {
	llm := newFakeLLM(t, "```json\n"+adaJSON+"\n```")
	f := newUploadFixture(t, llm)

	code, body := f.upload(t, "role-admin", "ada.txt", "Ada Lovelace, mathematician", nil)
	require.Equal(t, http.StatusCreated, code, body)
	rec := body["data"].(map[string]any)
	assert.Equal(t, "Ada Lovelace", rec["name"])
	assert.Equal(t, "ada.txt", rec["fileName"])
	assert.Equal(t, "Hired", rec["status"])
	assert.NotContains(t, rec, "favouriteColour")

	r, name, err := f.blobs.Open(context.Background(), "resumes", rec["id"].(string))
	require.NoError(t, err)
	defer r.Close()
	b, _ := io.ReadAll(r)
	assert.Equal(t, "Ada Lovelace, mathematician", string(b))
	assert.Equal(t, "ada.txt", name)

	assert.Contains(t, string(llm.lastBody), "Extract the resume.")
	assert.Contains(t, string(llm.lastBody), "Ada Lovelace, mathematician", "text resumes are inlined")
}

func TestUpload_InvalidStatusDefaultsToNew(t *testing.T) {
	llm := newFakeLLM(t, `{"name":"Bo","contact":{"email":"bo@example.com"},"status":"Maybe"}`)
	f := newUploadFixture(t, llm)

	code, body := f.upload(t, "role-admin", "bo.pdf", "%PDF-1.4", nil)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, DefaultStatus, body["data"].(map[string]any)["status"])
	assert.Contains(t, string(llm.lastBody), "data:application/pdf;base64,")
}

func TestUpload_ProviderFailureRemovesBlob(t *testing.T) {
	llm := newFakeLLM(t, adaJSON)
	llm.status = http.StatusServiceUnavailable
	f := newUploadFixture(t, llm)

	code, body := f.upload(t, "role-admin", "ada.txt", "Ada", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["message"], "model overloaded")

	n, err := f.store.Count(context.Background(), "resumes", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpload_ValidationFailureRemovesBlob(t *testing.T) {
	llm := newFakeLLM(t, `{"name":"No Email"}`)
	f := newUploadFixture(t, llm)

	code, _ := f.upload(t, "role-admin", "x.txt", "x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	n, err := f.store.Count(context.Background(), "resumes", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpload_RequestErrors(t *testing.T) {
	llm := newFakeLLM(t, adaJSON)
	f := newUploadFixture(t, llm)

	code, _ := f.upload(t, "role-viewer", "ada.txt", "Ada", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.upload(t, "role-admin", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.upload(t, "role-admin", "ada.txt", "Ada", map[string]string{"promptId": "missing"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.upload(t, "role-admin", "big.txt", strings.Repeat("x", 2048), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code, body)
	assert.Zero(t, llm.calls.Load())
}

func TestUpload_HonoursTableRequirements(t *testing.T) {
	f := newUploadFixture(t, newFakeLLM(t, adaJSON))
	resumes := f.reg.GetTable("resumes")
	resumes.Requires = []metadata.Capability{metadata.CapManagePrompts}

	code, body := f.upload(t, "role-recruiter", "ada.txt", "Ada", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, body["message"], string(metadata.CapManagePrompts))
	stored, err := f.store.Find(context.Background(), "resumes", store.Query{})
	require.NoError(t, err)
	assert.Empty(t, stored)

	code, body = f.upload(t, "role-admin", "ada.txt", "Ada", nil)
	assert.Equal(t, http.StatusCreated, code, body)

	resumes.Requires = nil
	code, body = f.upload(t, "role-recruiter", "ada2.txt", "Ada", nil)
	assert.Equal(t, http.StatusCreated, code, body)
}

func TestUpload_NotConfigured(t *testing.T) {
	f := newUploadFixture(t, nil)
	code, body := f.upload(t, "role-admin", "ada.txt", "Ada", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "UPSTREAM_ERROR", body["error"].(map[string]any)["code"])
}

func TestUpload_ActiveSettingsOverrideFallback(t *testing.T) {
	llm := newFakeLLM(t, `{"name":"Cy","contact":{"email":"cy@example.com"}}`)
	f := newUploadFixture(t, nil)
	_, err := f.store.Insert(context.Background(), "settings", map[string]any{
		"name": "primary", "baseUrl": llm.srv.URL, "model": "m", "apiSecret": "sk-test", "active": true,
	})
	require.NoError(t, err)

	code, body := f.upload(t, "role-admin", "cy.txt", "Cy", nil)
	require.Equal(t, http.StatusCreated, code, body)
	assert.EqualValues(t, 1, llm.calls.Load())
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(` {"a":1} `))
}
