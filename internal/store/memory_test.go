package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-backend/internal/document"
)

func TestMemoryStore(t *testing.T) {
	runDocumentStoreSuite(t, func(t *testing.T) DocumentStore {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc, err := s.Insert(ctx, "notes", map[string]any{"tags": []any{"a"}})
	require.NoError(t, err)

	doc["tags"].([]any)[0] = "mutated"
	got, err := s.FindByID(ctx, "notes", doc["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got["tags"])
}

func TestMemoryStore_UpdateManyRejectsCollisionWithinBatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "statuses", []string{"name"}))
	a, err := s.Insert(ctx, "statuses", map[string]any{"name": "New"})
	require.NoError(t, err)
	b, err := s.Insert(ctx, "statuses", map[string]any{"name": "Hired"})
	require.NoError(t, err)

	_, err = s.UpdateMany(ctx, "statuses", []string{a["id"].(string), b["id"].(string)}, map[string]any{"name": "Same"})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	n, err := s.Count(ctx, "statuses", Eq(document.MustPath("name"), "Same"))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no update is applied when the batch collides")
}

func TestMatch_NumbersCompareAcrossTypes(t *testing.T) {
	doc := map[string]any{"n": float64(3)}
	assert.True(t, Match(doc, Eq(document.MustPath("n"), 3)))
	assert.False(t, Match(doc, Eq(document.MustPath("n"), "3")))
	assert.True(t, Match(doc, Contains(document.MustPath("n"), "3")))
}
