package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage stores blobs on the local filesystem as <base>/<collection>/<id>/<filename>.
type LocalStorage struct {
	basePath string
	maxSize  int64
}

// NewLocalStorage returns a store rooted at basePath. A maxSize of zero
// disables the size check.
func NewLocalStorage(basePath string, maxSize int64) *LocalStorage {
	return &LocalStorage{basePath: basePath, maxSize: maxSize}
}

func (s *LocalStorage) dir(collection, id string) (string, error) {
	for _, part := range []string{collection, id} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid blob key %q", part)
		}
	}
	return filepath.Join(s.basePath, collection, id), nil
}

func (s *LocalStorage) Save(_ context.Context, collection, id, filename string, reader io.Reader) (string, error) {
	dir, err := s.dir(collection, id)
	if err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "blob"
	}

	// Replace whatever was stored before.
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	storagePath := filepath.Join(dir, name)
	f, err := os.Create(storagePath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	src := reader
	if s.maxSize > 0 {
		src = io.LimitReader(reader, s.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		f.Close()
		_ = os.RemoveAll(dir)
		return "", ErrTooLarge
	}
	return storagePath, nil
}

func (s *LocalStorage) Open(_ context.Context, collection, id string) (io.ReadCloser, string, error) {
	dir, err := s.dir(collection, id)
	if err != nil {
		return nil, "", err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, "", fmt.Errorf("open file: %w", err)
		}
		return f, e.Name(), nil
	}
	return nil, "", ErrNotFound
}

func (s *LocalStorage) Delete(_ context.Context, collection, id string) error {
	dir, err := s.dir(collection, id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
