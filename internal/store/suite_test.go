package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-backend/internal/document"
)

// runDocumentStoreSuite exercises the behaviour every backend must share.
func runDocumentStoreSuite(t *testing.T, newStore func(t *testing.T) DocumentStore) {
	t.Run("InsertAssignsIDAndTimestamps", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "people", nil))

		doc, err := s.Insert(ctx, "people", map[string]any{"name": "Ada", "age": 36})
		require.NoError(t, err)
		id, _ := doc["id"].(string)
		assert.NotEmpty(t, id)
		assert.Equal(t, float64(36), doc["age"])
		createdAt, _ := doc["createdAt"].(string)
		_, perr := time.Parse(time.RFC3339, createdAt)
		assert.NoError(t, perr)
		assert.Equal(t, doc["createdAt"], doc["updatedAt"])

		got, err := s.FindByID(ctx, "people", id)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got["name"])

		_, err = s.FindByID(ctx, "people", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("EqualsAndNotEquals", func(t *testing.T) {
		s := seedPeople(t, newStore(t))
		ctx := context.Background()
		status := document.MustPath("status")

		n, err := s.Count(ctx, "people", Eq(status, "active"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		// Missing fields match notEquals.
		n, err = s.Count(ctx, "people", Ne(status, "active"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.Count(ctx, "people", Eq(document.MustPath("age"), 41))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, "people", Eq(document.MustPath("remote"), true))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, "people", Eq(document.MustPath("contact.email"), "grace@navy.mil"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ContainsIsCaseInsensitiveAndLiteral", func(t *testing.T) {
		s := seedPeople(t, newStore(t))
		ctx := context.Background()
		name := document.MustPath("name")

		n, err := s.Count(ctx, "people", Contains(name, "LOVE"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, "people", Contains(name, "%"))
		require.NoError(t, err)
		assert.Equal(t, 1, n, "percent must match literally")

		n, err = s.Count(ctx, "people", Contains(name, "_"))
		require.NoError(t, err)
		assert.Equal(t, 0, n, "underscore must match literally")

		n, err = s.Count(ctx, "people", NotContains(name, "a"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, "people", Contains(document.MustPath("skills"), "cobol"))
		require.NoError(t, err)
		assert.Equal(t, 1, n, "contains searches inside arrays")
	})

	t.Run("OrOfAnd", func(t *testing.T) {
		s := seedPeople(t, newStore(t))
		ctx := context.Background()
		f := And{
			Or{
				Contains(document.MustPath("name"), "grace"),
				Contains(document.MustPath("contact.email"), "ada@"),
			},
			Eq(document.MustPath("status"), "active"),
		}
		docs, err := s.Find(ctx, "people", Query{Filter: f})
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		n, err := s.Count(ctx, "people", Or{})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		n, err = s.Count(ctx, "people", And{})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("SortSkipLimit", func(t *testing.T) {
		s := seedPeople(t, newStore(t))
		ctx := context.Background()
		docs, err := s.Find(ctx, "people", Query{
			Sort: []SortField{{Path: document.MustPath("age"), Desc: true}},
		})
		require.NoError(t, err)
		require.Len(t, docs, 4)
		assert.Equal(t, "Grace Hopper", docs[0]["name"])
		assert.Nil(t, docs[3]["age"], "missing values sort last when descending")

		page, err := s.Find(ctx, "people", Query{
			Sort:  []SortField{{Path: document.MustPath("name")}},
			Skip:  1,
			Limit: 2,
		})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "Grace Hopper", page[0]["name"])
		assert.Equal(t, "Ken Thompson", page[1]["name"])

		rest, err := s.Find(ctx, "people", Query{Sort: []SortField{{Path: document.MustPath("name")}}, Skip: 3})
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})

	t.Run("UpdateByIDMergesDottedKeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "people", nil))
		doc, err := s.Insert(ctx, "people", map[string]any{
			"name":    "Ada",
			"contact": map[string]any{"email": "a@x.io", "phone": "1"},
		})
		require.NoError(t, err)
		id := doc["id"].(string)

		updated, err := s.UpdateByID(ctx, "people", id, map[string]any{
			"contact.phone": "2",
			"id":            "hijack",
		})
		require.NoError(t, err)
		assert.Equal(t, id, updated["id"])
		assert.Equal(t, map[string]any{"email": "a@x.io", "phone": "2"}, updated["contact"])
		assert.Equal(t, doc["createdAt"], updated["createdAt"])

		_, err = s.UpdateByID(ctx, "people", "missing", map[string]any{"name": "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UniqueIndex", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "users", []string{"email"}))

		a, err := s.Insert(ctx, "users", map[string]any{"email": "a@x.io"})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "users", map[string]any{"email": "b@x.io"})
		require.NoError(t, err)

		_, err = s.Insert(ctx, "users", map[string]any{"email": "a@x.io"})
		assert.ErrorIs(t, err, ErrUniqueViolation)

		_, err = s.UpdateByID(ctx, "users", a["id"].(string), map[string]any{"email": "b@x.io"})
		assert.ErrorIs(t, err, ErrUniqueViolation)

		// Re-saving the same value on the same record is fine.
		_, err = s.UpdateByID(ctx, "users", a["id"].(string), map[string]any{"email": "a@x.io"})
		assert.NoError(t, err)

		// Missing values are not indexed.
		_, err = s.Insert(ctx, "users", map[string]any{"name": "no email"})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "users", map[string]any{"name": "no email either"})
		require.NoError(t, err)
	})

	t.Run("InsertManyIsAllOrNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "users", []string{"email"}))

		_, err := s.InsertMany(ctx, "users", []map[string]any{
			{"email": "a@x.io"},
			{"email": "b@x.io"},
			{"email": "a@x.io"},
		})
		assert.True(t, errors.Is(err, ErrUniqueViolation), "got %v", err)

		n, err := s.Count(ctx, "users", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		docs, err := s.InsertMany(ctx, "users", []map[string]any{{"email": "a@x.io"}, {"email": "b@x.io"}})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("UpdateManyAndDeleteMany", func(t *testing.T) {
		s := seedPeople(t, newStore(t))
		ctx := context.Background()
		all, err := s.Find(ctx, "people", Query{})
		require.NoError(t, err)
		ids := []string{all[0]["id"].(string), all[1]["id"].(string), "ghost"}

		updated, err := s.UpdateMany(ctx, "people", ids, map[string]any{"status": "archived"})
		require.NoError(t, err)
		assert.ElementsMatch(t, ids[:2], updated)

		n, err := s.Count(ctx, "people", Eq(document.MustPath("status"), "archived"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		found, err := s.FindByIDs(ctx, "people", ids)
		require.NoError(t, err)
		assert.Len(t, found, 2)

		deleted, err := s.DeleteMany(ctx, "people", ids)
		require.NoError(t, err)
		assert.ElementsMatch(t, ids[:2], deleted)

		ok, err := s.DeleteByID(ctx, "people", ids[0])
		require.NoError(t, err)
		assert.False(t, ok, "second delete is a no-op")

		n, err = s.Count(ctx, "people", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("RejectsUnsafeCollectionNames", func(t *testing.T) {
		s := newStore(t)
		err := s.EnsureCollection(context.Background(), `people"; DROP TABLE x; --`, nil)
		assert.Error(t, err)
	})
}

func seedPeople(t *testing.T, s DocumentStore) DocumentStore {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "people", nil))
	people := []map[string]any{
		{"name": "Ada Lovelace", "age": 36, "status": "active", "contact": map[string]any{"email": "ada@analytical.org"}, "skills": []any{"math", "poetry"}},
		{"name": "Grace Hopper", "age": 85, "status": "active", "remote": true, "contact": map[string]any{"email": "grace@navy.mil"}, "skills": []any{"COBOL"}},
		{"name": "Linus 100% Torvalds", "age": 41, "status": "inactive"},
		{"name": "Ken Thompson"},
	}
	for i, p := range people {
		p["id"] = fmt.Sprintf("p%d", i+1)
		_, err := s.Insert(ctx, "people", p)
		require.NoError(t, err)
	}
	return s
}
