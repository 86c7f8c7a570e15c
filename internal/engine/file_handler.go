package engine

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/metadata"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

// FileHandler streams the blob stored for a record.
type FileHandler struct {
	store    store.DocumentStore
	registry *metadata.Registry
	blobs    storage.FileStorage
	engine   *Handler
}

func NewFileHandler(h *Handler) *FileHandler {
	return &FileHandler{store: h.store, registry: h.registry, blobs: h.blobs, engine: h}
}

// Serve handles GET <file endpoint> for the table slug.
func (h *FileHandler) Serve(c *fiber.Ctx, slug string) error {
	t := h.registry.GetTable(slug)
	if t == nil {
		return UnknownTableError(slug)
	}
	p, err := h.engine.principal(c)
	if err != nil {
		return err
	}
	if err := Authorize(p, tableCapabilities(t, metadata.ActionRead)...); err != nil {
		return err
	}

	id := c.Params("id")
	if _, err := h.store.FindByID(c.Context(), t.Collection, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(t.Slug, id)
		}
		return fmt.Errorf("get %s/%s: %w", t.Slug, id, err)
	}

	reader, filename, err := h.blobs.Open(c.Context(), t.Collection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, fmt.Sprintf("No file stored for %s %s", t.Slug, id))
	}
	if err != nil {
		return UpstreamError(fiber.StatusBadGateway, fmt.Sprintf("Failed to open stored file: %v", err))
	}

	ctype := mime.TypeByExtension(filepath.Ext(filename))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, ctype)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s"`, filename))
	return c.SendStream(reader)
}
