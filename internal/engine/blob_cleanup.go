package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"resume-backend/internal/document"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

const (
	cleanupPending = "pending"
	cleanupFailed  = "failed"
	cleanupBatch   = 50
)

// BlobCleanup removes record blobs and queues failed removals in the
// _blob_cleanup collection for a cron-driven retry.
type BlobCleanup struct {
	store       store.DocumentStore
	blobs       storage.FileStorage
	maxAttempts int

	mu   sync.Mutex
	cron *cron.Cron
}

func NewBlobCleanup(s store.DocumentStore, blobs storage.FileStorage, maxAttempts int) *BlobCleanup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &BlobCleanup{store: s, blobs: blobs, maxAttempts: maxAttempts}
}

// Remove deletes the blob of (collection, id). A failed removal is queued
// and reported as pending.
func (b *BlobCleanup) Remove(ctx context.Context, collection, id string) (pending bool) {
	if b == nil || b.blobs == nil {
		return false
	}
	err := b.blobs.Delete(ctx, collection, id)
	if err == nil {
		return false
	}
	log.Printf("WARN: blob delete %s/%s failed, queueing retry: %v", collection, id, err)
	if qerr := b.enqueue(ctx, collection, id, err); qerr != nil {
		log.Printf("ERROR: queue blob cleanup %s/%s: %v", collection, id, qerr)
	}
	return true
}

func (b *BlobCleanup) enqueue(ctx context.Context, collection, id string, cause error) error {
	_, err := b.store.Insert(ctx, store.BlobCleanupCollection, map[string]any{
		"collection": collection,
		"recordId":   id,
		"attempts":   1,
		"status":     cleanupPending,
		"lastError":  cause.Error(),
	})
	return err
}

// RunOnce retries pending removals. Entries that keep failing are marked
// failed after maxAttempts.
func (b *BlobCleanup) RunOnce(ctx context.Context) (removed, failed int) {
	entries, err := b.store.Find(ctx, store.BlobCleanupCollection, store.Query{
		Filter: store.Eq(document.Path{"status"}, cleanupPending),
		Sort:   []store.SortField{{Path: document.Path{"createdAt"}}},
		Limit:  cleanupBatch,
	})
	if err != nil {
		log.Printf("ERROR: blob cleanup query failed: %v", err)
		return 0, 0
	}

	for _, e := range entries {
		entryID, _ := e["id"].(string)
		collection, _ := e["collection"].(string)
		recordID, _ := e["recordId"].(string)

		delErr := b.blobs.Delete(ctx, collection, recordID)
		if delErr == nil {
			if _, err := b.store.DeleteByID(ctx, store.BlobCleanupCollection, entryID); err != nil {
				log.Printf("ERROR: blob cleanup dequeue %s: %v", entryID, err)
			}
			removed++
			continue
		}

		attempts := toInt(e["attempts"]) + 1
		set := map[string]any{"attempts": attempts, "lastError": delErr.Error()}
		if attempts >= b.maxAttempts {
			set["status"] = cleanupFailed
			failed++
			log.Printf("ERROR: blob %s/%s not removed after %d attempts: %v", collection, recordID, attempts, delErr)
		}
		if _, err := b.store.UpdateByID(ctx, store.BlobCleanupCollection, entryID, set); err != nil {
			log.Printf("ERROR: blob cleanup update %s: %v", entryID, err)
		}
	}
	if removed > 0 || failed > 0 {
		log.Printf("Blob cleanup: %d removed, %d given up", removed, failed)
	}
	return removed, failed
}

// Start schedules RunOnce on a cron spec such as "@every 5m".
func (b *BlobCleanup) Start(ctx context.Context, spec string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := cron.New(cron.WithLogger(cron.DefaultLogger))
	if _, err := c.AddFunc(spec, func() { b.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	c.Start()
	b.cron = c
	log.Printf("Blob cleanup scheduler started (%s)", spec)
	return nil
}

func (b *BlobCleanup) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cron != nil {
		<-b.cron.Stop().Done()
		b.cron = nil
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
