package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_SaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir(), 0)

	_, err := s.Save(ctx, "resumes", "r1", "cv.pdf", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = s.Save(ctx, "resumes", "r1", "../../cv-v2.pdf", strings.NewReader("second"))
	require.NoError(t, err)

	rc, name, err := s.Open(ctx, "resumes", "r1")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "cv-v2.pdf", name)
	assert.Equal(t, "second", string(body))

	require.NoError(t, s.Delete(ctx, "resumes", "r1"))
	require.NoError(t, s.Delete(ctx, "resumes", "r1"))
	_, _, err = s.Open(ctx, "resumes", "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_RejectsTraversalAndOversize(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir(), 4)

	_, err := s.Save(ctx, "resumes", "..", "x", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = s.Save(ctx, "resumes", "r2", "big.txt", strings.NewReader("too large"))
	assert.ErrorIs(t, err, ErrTooLarge)
	_, _, err = s.Open(ctx, "resumes", "r2")
	assert.ErrorIs(t, err, ErrNotFound)
}
