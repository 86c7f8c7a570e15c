package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"resume-backend/internal/config"
	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
)

func TestBootstrap_SeedsOnceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadAll(reg, ""))
	s := NewMemoryStore()
	admin := config.AdminConfig{Name: "Admin", Email: "admin@example.com", Password: "s3cret"}

	require.NoError(t, Bootstrap(ctx, s, reg, admin))
	require.NoError(t, Bootstrap(ctx, s, reg, admin))

	roles, err := s.Find(ctx, "roles", Query{})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	role, err := metadata.RoleFromDocument(roles[0])
	require.NoError(t, err)
	assert.True(t, metadata.HasCapability(role, metadata.ModuleCapability("resumes", metadata.ActionDelete)))
	assert.True(t, metadata.HasCapability(role, metadata.CapManageRoles))

	users, err := s.Find(ctx, "users", Query{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, role.ID, users[0]["role"])
	hash, _ := users[0]["password"].(string)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	n, err := s.Count(ctx, "statuses", nil)
	require.NoError(t, err)
	assert.Equal(t, len(defaultStatuses), n)

	active, err := s.Count(ctx, "prompts", Eq(document.MustPath("active"), true))
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	// Unique index on users.email is in place.
	_, err = s.Insert(ctx, "users", map[string]any{"email": "admin@example.com"})
	assert.ErrorIs(t, err, ErrUniqueViolation)
}
