package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by Open when no blob is stored for a record.
	ErrNotFound = errors.New("blob not found")
	// ErrTooLarge is returned by Save when the content exceeds the size limit.
	ErrTooLarge = errors.New("blob exceeds size limit")
)

// FileStorage persists one blob per record, keyed by collection and record id.
type FileStorage interface {
	// Save stores the content under (collection, id), replacing any previous blob.
	Save(ctx context.Context, collection, id, filename string, reader io.Reader) (storagePath string, err error)
	// Open returns the stored blob and its original file name.
	Open(ctx context.Context, collection, id string) (io.ReadCloser, string, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, collection, id string) error
}
