package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"resume-backend/internal/document"
	"resume-backend/internal/store"
)

func TestList_ScenarioA_EqualsFilter(t *testing.T) {
	e := newTestEngine(t)
	e.seed(t, "statuses",
		map[string]any{"status": "New", "color": "#111"},
		map[string]any{"status": "Hired", "color": "#222"},
	)

	filters := `[{"column":"status","operator":"equals","value":"Hired"}]`
	code, body := e.do(t, http.MethodGet, "/table/statuses?filters="+urlEncode(filters), adminRole, nil)
	require.Equal(t, http.StatusOK, code, body)

	items := data(t, body)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Hired", items[0].(map[string]any)["status"])
	assert.Equal(t, "success", body["status"])
}

func seedResumes(t *testing.T, e *testEngine, n int) {
	t.Helper()
	docs := make([]map[string]any, n)
	for i := range docs {
		docs[i] = map[string]any{
			"name":    fmt.Sprintf("Candidate %02d", i+1),
			"contact": map[string]any{"email": fmt.Sprintf("c%02d@example.com", i+1)},
			"status":  "New",
		}
	}
	e.seed(t, "resumes", docs...)
}

func TestList_ScenarioB_LastPage(t *testing.T) {
	e := newTestEngine(t)
	seedResumes(t, e, 25)

	code, body := e.do(t, http.MethodGet, "/table/resumes?page=3&pageSize=10", adminRole, nil)
	require.Equal(t, http.StatusOK, code, body)
	d := data(t, body)
	assert.Len(t, d["items"], 5)
	p := d["pagination"].(map[string]any)
	assert.Equal(t, float64(3), p["totalPages"])
	assert.Equal(t, float64(25), p["totalItems"])
	assert.Equal(t, float64(3), p["currentPage"])
	assert.Equal(t, float64(10), p["pageSize"])
}

func TestList_ScenarioC_PageOutOfRange(t *testing.T) {
	e := newTestEngine(t)
	seedResumes(t, e, 25)

	code, body := e.do(t, http.MethodGet, "/table/resumes?page=4&pageSize=10", adminRole, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "PAGE_OUT_OF_RANGE", errorCode(body))
	assert.Equal(t, "error", body["status"])
}

func TestList_EmptyTableReturnsEmptyPage(t *testing.T) {
	e := newTestEngine(t)
	code, body := e.do(t, http.MethodGet, "/table/resumes?page=1", adminRole, nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, body)
	assert.Empty(t, d["items"])
	assert.Equal(t, float64(0), d["pagination"].(map[string]any)["totalPages"])
}

func TestCreate_ScenarioD_PasswordIsHashedAndRedacted(t *testing.T) {
	e := newTestEngine(t)

	code, body := e.do(t, http.MethodPost, "/table/users", adminRole, map[string]any{
		"name": "Dana", "email": "dana@example.com", "password": "secret123", "role": viewerRole,
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, document.RedactionMarker, data(t, body)["password"])

	code, body = e.do(t, http.MethodGet, "/table/users", adminRole, nil)
	require.Equal(t, http.StatusOK, code)
	items := data(t, body)["items"].([]any)
	require.Len(t, items, 1)
	user := items[0].(map[string]any)
	assert.Equal(t, document.RedactionMarker, user["password"])
	assert.Equal(t, "Viewer", user["roleName"])

	stored, err := e.store.Find(context.Background(), "users", store.Query{})
	require.NoError(t, err)
	hash := stored[0]["password"].(string)
	assert.NotEqual(t, "secret123", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret123")))
}

func TestList_UnknownRoleName(t *testing.T) {
	e := newTestEngine(t)
	e.seed(t, "users", map[string]any{"name": "Ghost", "email": "g@example.com", "role": "gone"})

	_, body := e.do(t, http.MethodGet, "/table/users", adminRole, nil)
	items := data(t, body)["items"].([]any)
	assert.Equal(t, UnknownRoleName, items[0].(map[string]any)["roleName"])
}

func TestBulkDelete_ScenarioE_ReportsActualCount(t *testing.T) {
	e := newTestEngine(t)
	docs := e.seed(t, "resumes", map[string]any{"name": "Only", "contact": map[string]any{"email": "o@example.com"}})
	id1 := docs[0]["id"].(string)

	code, body := e.do(t, http.MethodPost, "/table/resumes?action=bulk-delete", adminRole, map[string]any{
		"ids": []string{id1, "missing-id"},
	})
	require.Equal(t, http.StatusOK, code, body)
	d := data(t, body)
	assert.Equal(t, float64(1), d["deletedCount"])
	assert.Equal(t, []any{"missing-id"}, d["notFound"])

	n, err := e.store.Count(context.Background(), "resumes", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearch_RejectsUndeclaredColumns(t *testing.T) {
	e := newTestEngine(t)
	seedResumes(t, e, 3)

	code, body := e.do(t, http.MethodGet, "/table/resumes?search=x&searchColumns=summary", adminRole, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	code, body = e.do(t, http.MethodGet, "/table/resumes?search=C02%40EXAMPLE&searchColumns=contact.email", adminRole, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, data(t, body)["items"], 1)

	// An empty searchColumns falls back to every searchable column.
	code, body = e.do(t, http.MethodGet, "/table/resumes?search=candidate%2001", adminRole, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, data(t, body)["items"], 1)
}

func TestFilter_Validation(t *testing.T) {
	e := newTestEngine(t)
	cases := map[string]string{
		"not filterable":   `[{"column":"summary","operator":"contains","value":"x"}]`,
		"bad operator":     `[{"column":"experienceYears","operator":"contains","value":"1"}]`,
		"bad number value": `[{"column":"experienceYears","operator":"equals","value":"many"}]`,
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			code, body := e.do(t, http.MethodGet, "/table/resumes?filters="+urlEncode(f), adminRole, nil)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
		})
	}

	// Empty values are dropped rather than rejected.
	code, _ := e.do(t, http.MethodGet, "/table/resumes?filters="+urlEncode(`[{"column":"summary","operator":"contains","value":""}]`), adminRole, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestFilter_NumberCoercionAndNotEquals(t *testing.T) {
	e := newTestEngine(t)
	e.seed(t, "resumes",
		map[string]any{"name": "A", "contact": map[string]any{"email": "a@x.io"}, "experienceYears": 3},
		map[string]any{"name": "B", "contact": map[string]any{"email": "b@x.io"}, "experienceYears": 7},
		map[string]any{"name": "C", "contact": map[string]any{"email": "c@x.io"}},
	)

	_, body := e.do(t, http.MethodGet, "/table/resumes?filters="+urlEncode(`[{"column":"experienceYears","operator":"equals","value":"7"}]`), adminRole, nil)
	assert.Len(t, data(t, body)["items"], 1)

	_, body = e.do(t, http.MethodGet, "/table/resumes?filters="+urlEncode(`[{"column":"experienceYears","operator":"notEquals","value":7}]`), adminRole, nil)
	assert.Len(t, data(t, body)["items"], 2, "missing fields match notEquals")
}

func TestSort_ExplicitAndDefault(t *testing.T) {
	e := newTestEngine(t)
	e.seed(t, "resumes",
		map[string]any{"name": "Bravo", "contact": map[string]any{"email": "b@x.io"}, "updatedAt": "2024-01-01T00:00:00.000000Z"},
		map[string]any{"name": "Alpha", "contact": map[string]any{"email": "a@x.io"}, "updatedAt": "2024-02-01T00:00:00.000000Z"},
		map[string]any{"name": "Charlie", "contact": map[string]any{"email": "c@x.io"}, "updatedAt": "2023-12-01T00:00:00.000000Z"},
	)

	names := func(body map[string]any) []string {
		var out []string
		for _, it := range data(t, body)["items"].([]any) {
			out = append(out, it.(map[string]any)["name"].(string))
		}
		return out
	}

	_, body := e.do(t, http.MethodGet, "/table/resumes", adminRole, nil)
	assert.Equal(t, []string{"Alpha", "Bravo", "Charlie"}, names(body), "default is updatedAt desc")

	_, body = e.do(t, http.MethodGet, "/table/resumes?sort=name&order=desc", adminRole, nil)
	assert.Equal(t, []string{"Charlie", "Bravo", "Alpha"}, names(body))

	code, body := e.do(t, http.MethodGet, "/table/resumes?sort=summary", adminRole, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestPermissions(t *testing.T) {
	e := newTestEngine(t)

	code, body := e.do(t, http.MethodGet, "/table/resumes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	code, _ = e.do(t, http.MethodGet, "/table/resumes", viewerRole, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = e.do(t, http.MethodPost, "/table/resumes", viewerRole, map[string]any{"name": "x", "contact.email": "x@x.io"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	// Editors may create resumes but not bulk delete them.
	code, body = e.do(t, http.MethodPost, "/table/resumes", editorRole, map[string]any{"name": "x", "contact.email": "x@x.io"})
	require.Equal(t, http.StatusCreated, code, body)
	id := data(t, body)["id"].(string)
	code, _ = e.do(t, http.MethodPost, "/table/resumes?action=bulk-delete", editorRole, map[string]any{"ids": []string{id}})
	assert.Equal(t, http.StatusForbidden, code)

	// Prompts need can_manage_prompts on top of the module permission.
	code, _ = e.do(t, http.MethodGet, "/table/prompts", editorRole, nil)
	assert.Equal(t, http.StatusForbidden, code)

	// Creating users needs can_update_users.
	code, _ = e.do(t, http.MethodPost, "/table/users", editorRole, map[string]any{
		"name": "U", "email": "u@x.io", "password": "pw", "role": viewerRole,
	})
	assert.Equal(t, http.StatusForbidden, code)

	// Table listing only shows readable tables.
	code, body = e.do(t, http.MethodGet, "/table", viewerRole, nil)
	require.Equal(t, http.StatusOK, code)
	var slugs []string
	for _, tbl := range body["data"].([]any) {
		slugs = append(slugs, tbl.(map[string]any)["slug"].(string))
	}
	assert.ElementsMatch(t, []string{"resumes", "statuses"}, slugs)
}

func TestPasswordUpdateNeedsCapability(t *testing.T) {
	e := newTestEngine(t)
	docs := e.seed(t, "users", map[string]any{"name": "U", "email": "u@x.io", "password": "old", "role": viewerRole})
	id := docs[0]["id"].(string)

	code, _ := e.do(t, http.MethodPut, "/table/users?id="+id, editorRole, map[string]any{"password": "new"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := e.do(t, http.MethodPut, "/table/users?id="+id, adminRole, map[string]any{"password": "new"})
	require.Equal(t, http.StatusOK, code, body)
	stored, err := e.store.FindByID(context.Background(), "users", id)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored["password"].(string)), []byte("new")))
}

func TestCreate_Validation(t *testing.T) {
	e := newTestEngine(t)

	code, body := e.do(t, http.MethodPost, "/table/resumes", adminRole, map[string]any{"name": "  "})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
	details := body["error"].(map[string]any)["details"].([]any)
	assert.Len(t, details, 2)

	code, body = e.do(t, http.MethodPost, "/table/resumes", adminRole, map[string]any{
		"name": "Neg", "contact.email": "n@x.io", "experienceYears": -2,
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "experienceYears must not be negative")

	code, _ = e.do(t, http.MethodPost, "/table/resumes", adminRole, map[string]any{
		"name": "Bad", "contact.email": "b@x.io", "status": "Pending",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPost, "/table/users", adminRole, map[string]any{
		"name": "U", "email": "u@x.io", "password": "pw", "role": "no-such-role",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "no-such-role")
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	e := newTestEngine(t)
	code, _ := e.do(t, http.MethodPost, "/table/statuses", adminRole, map[string]any{"status": "New", "color": "#111"})
	require.Equal(t, http.StatusCreated, code)
	code, body := e.do(t, http.MethodPost, "/table/statuses", adminRole, map[string]any{"status": "New", "color": "#222"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", errorCode(body))
}

func TestUpdate_MergesAndSoftNotFound(t *testing.T) {
	e := newTestEngine(t)
	docs := e.seed(t, "resumes", map[string]any{
		"name": "Ada", "contact": map[string]any{"email": "ada@x.io", "phone": "1"},
	})
	id := docs[0]["id"].(string)

	code, body := e.do(t, http.MethodPut, "/table/resumes", adminRole, map[string]any{"id": id, "contact.phone": "2"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"email": "ada@x.io", "phone": "2"}, data(t, body)["contact"])

	code, body = e.do(t, http.MethodPut, "/table/resumes?id=nope", adminRole, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(t, body)["found"])

	code, body = e.do(t, http.MethodPut, "/table/resumes", adminRole, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_PAYLOAD", errorCode(body))
}

func TestDelete_IsIdempotentAndRemovesBlob(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	docs := e.seed(t, "resumes", map[string]any{"name": "Ada", "contact": map[string]any{"email": "ada@x.io"}})
	id := docs[0]["id"].(string)
	_, err := e.blobs.Save(ctx, "resumes", id, "ada.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	code, body := e.do(t, http.MethodDelete, "/table/resumes?id="+id, adminRole, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Nil(t, data(t, body)["cleanupPending"])
	_, _, err = e.blobs.Open(ctx, "resumes", id)
	assert.Error(t, err)

	code, body = e.do(t, http.MethodDelete, "/table/resumes?id="+id, adminRole, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(t, body)["found"])
}

func TestDelete_FailedBlobRemovalIsQueuedAndRetried(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	docs := e.seed(t, "resumes",
		map[string]any{"name": "A", "contact": map[string]any{"email": "a@x.io"}},
		map[string]any{"name": "B", "contact": map[string]any{"email": "b@x.io"}},
	)
	idA, idB := docs[0]["id"].(string), docs[1]["id"].(string)
	for _, id := range []string{idA, idB} {
		_, err := e.blobs.Save(ctx, "resumes", id, "cv.txt", strings.NewReader("cv"))
		require.NoError(t, err)
	}

	e.blobs.setBroken(true)
	code, body := e.do(t, http.MethodDelete, "/table/resumes?id="+idA, adminRole, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, body)["cleanupPending"])
	assert.Contains(t, body["message"], "cleanup pending")

	_, body = e.do(t, http.MethodPost, "/table/resumes?action=bulk-delete", adminRole, map[string]any{"ids": []string{idB}})
	assert.Equal(t, true, data(t, body)["cleanupPending"])

	// Still broken: second attempt exhausts maxAttempts (2).
	removed, failed := e.cleanup.RunOnce(ctx)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, failed)

	e.blobs.setBroken(false)
	removed, _ = e.cleanup.RunOnce(ctx)
	assert.Equal(t, 0, removed, "failed entries are not retried")

	n, err := e.store.Count(ctx, store.BlobCleanupCollection, store.Eq(document.Path{"status"}, cleanupFailed))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBlobCleanup_RetrySucceeds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.blobs.setBroken(true)
	assert.True(t, e.cleanup.Remove(ctx, "resumes", "r1"))
	e.blobs.setBroken(false)

	removed, failed := e.cleanup.RunOnce(ctx)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, failed)
	n, err := e.store.Count(ctx, store.BlobCleanupCollection, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkUpdate(t *testing.T) {
	e := newTestEngine(t)
	docs := e.seed(t, "resumes",
		map[string]any{"name": "A", "contact": map[string]any{"email": "a@x.io"}, "status": "New"},
		map[string]any{"name": "B", "contact": map[string]any{"email": "b@x.io"}, "status": "New"},
	)
	ids := []string{docs[0]["id"].(string), docs[1]["id"].(string)}

	code, body := e.do(t, http.MethodPost, "/table/resumes?action=bulk-update", adminRole, map[string]any{
		"ids": ids, "updates": map[string]any{"status": "Shortlisted"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(2), data(t, body)["updatedCount"])

	n, err := e.store.Count(context.Background(), "resumes", store.Eq(document.Path{"status"}, "Shortlisted"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	code, _ = e.do(t, http.MethodPost, "/table/resumes?action=bulk-update", adminRole, map[string]any{
		"ids": ids, "updates": map[string]any{"status": "Bogus"},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/table/resumes?action=bulk-update", adminRole, map[string]any{
		"ids": ids, "updates": map[string]any{"nonsense": 1},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnknownTableAndAction(t *testing.T) {
	e := newTestEngine(t)
	code, body := e.do(t, http.MethodGet, "/table/nope", adminRole, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "UNKNOWN_TABLE", errorCode(body))

	code, _ = e.do(t, http.MethodPost, "/table/resumes?action=explode", adminRole, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetConfig(t *testing.T) {
	e := newTestEngine(t)
	code, body := e.do(t, http.MethodGet, "/table/resumes/config", viewerRole, nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, body)
	assert.Equal(t, "resumes", d["slug"])
	assert.NotEmpty(t, d["columns"])

	code, _ = e.do(t, http.MethodGet, "/table/settings/config", viewerRole, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestSettingsSecretIsRedactedAndPreserved(t *testing.T) {
	e := newTestEngine(t)
	code, body := e.do(t, http.MethodPost, "/table/settings", adminRole, map[string]any{
		"name": "openai", "model": "gpt-4o-mini", "apiSecret": "sk-live",
	})
	require.Equal(t, http.StatusCreated, code, body)
	record := data(t, body)
	assert.Equal(t, document.RedactionMarker, record["apiSecret"])

	// Saving the redacted form back does not overwrite the secret.
	record["model"] = "gpt-4o"
	code, _ = e.do(t, http.MethodPut, "/table/settings", adminRole, record)
	require.Equal(t, http.StatusOK, code)
	stored, err := e.store.FindByID(context.Background(), "settings", record["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "sk-live", stored["apiSecret"])
	assert.Equal(t, "gpt-4o", stored["model"])
}

func TestFileRoute(t *testing.T) {
	e := newTestEngine(t)
	docs := e.seed(t, "resumes", map[string]any{"name": "Ada", "contact": map[string]any{"email": "ada@x.io"}})
	id := docs[0]["id"].(string)

	resp, _ := e.raw(t, "/resumes/"+id+"/file", viewerRole)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := e.blobs.Save(context.Background(), "resumes", id, "ada.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	resp, b := e.raw(t, "/resumes/"+id+"/file", viewerRole)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(b))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "ada.txt")
}
