//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"resume-backend/internal/config"
)

// Runs against a disposable database: each subtest drops the collections
// it uses before starting.
func TestPostgresStore(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:   "postgres",
		Host:     envOr("TEST_PG_HOST", "localhost"),
		Port:     5433,
		User:     envOr("TEST_PG_USER", "resume"),
		Password: envOr("TEST_PG_PASSWORD", "resume"),
		Name:     envOr("TEST_PG_DB", "resume_test"),
		PoolSize: 2,
	}
	runDocumentStoreSuite(t, func(t *testing.T) DocumentStore {
		ctx := context.Background()
		s, err := NewSQLStore(ctx, cfg)
		require.NoError(t, err)
		for _, coll := range []string{"people", "users", "notes", "statuses"} {
			_, err := s.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(coll))
			require.NoError(t, err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
