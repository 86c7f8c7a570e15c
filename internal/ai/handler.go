package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/document"
	"resume-backend/internal/engine"
	"resume-backend/internal/metadata"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

// DefaultStatus is given to uploaded resumes whose extraction names no
// valid status.
const DefaultStatus = "New"

var activePath = document.Path{"active"}

// Handler handles resume upload and extraction.
type Handler struct {
	tables   *engine.Handler
	store    store.DocumentStore
	blobs    storage.FileStorage
	fallback *Provider
	timeout  time.Duration
}

// NewHandler creates a new AI handler. fallback serves when no active
// provider is stored in the settings table; it may be nil.
func NewHandler(tables *engine.Handler, s store.DocumentStore, blobs storage.FileStorage, fallback *Provider, timeout time.Duration) *Handler {
	return &Handler{tables: tables, store: s, blobs: blobs, fallback: fallback, timeout: timeout}
}

// Status returns whether AI is configured and the model name.
func (h *Handler) Status(c *fiber.Ctx) error {
	p, err := h.provider(c.Context())
	if err != nil {
		return err
	}
	data := fiber.Map{"configured": p != nil}
	if p != nil {
		data["model"] = p.Model()
	}
	return c.JSON(engine.Envelope{Status: "success", Message: "AI provider status", Data: data})
}

// Upload handles POST <upload endpoint>: store the file, extract the
// resume with the selected prompt and create the record.
func (h *Handler) Upload(c *fiber.Ctx, slug string) error {
	t := h.tables.Registry().GetTable(slug)
	if t == nil {
		return engine.UnknownTableError(slug)
	}
	p, err := h.tables.Principal(c)
	if err != nil {
		return err
	}
	if err := engine.AuthorizeCreate(p, t, nil); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return engine.BadRequestError("A resume file is required in the 'file' field")
	}
	f, err := fh.Open()
	if err != nil {
		return engine.BadRequestError("Failed to read uploaded file")
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return engine.BadRequestError("Failed to read uploaded file")
	}
	if len(content) == 0 {
		return engine.BadRequestError("Uploaded file is empty")
	}
	filename := filepath.Base(fh.Filename)

	ctx := c.Context()
	prompt, err := h.prompt(ctx, c.FormValue("promptId"))
	if err != nil {
		return err
	}
	provider, err := h.provider(ctx)
	if err != nil {
		return err
	}
	if provider == nil {
		return engine.UpstreamError(fiber.StatusServiceUnavailable, "AI provider is not configured")
	}

	id := store.NewID()
	if _, err := h.blobs.Save(ctx, t.Collection, id, filename, bytes.NewReader(content)); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return engine.NewAppError("FILE_TOO_LARGE", fiber.StatusRequestEntityTooLarge, "Uploaded file exceeds the size limit")
		}
		return engine.UpstreamError(fiber.StatusBadGateway, fmt.Sprintf("Failed to store file: %v", err))
	}

	extractCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	extracted, err := provider.Extract(extractCtx, prompt, filename, content)
	if err != nil {
		h.discard(ctx, t.Collection, id)
		log.Printf("ERROR: resume extraction for %s failed: %v", filename, err)
		return engine.UpstreamError(fiber.StatusBadGateway, err.Error())
	}

	record := resumeRecord(t, extracted, filename)
	created, err := h.tables.InsertRecordWithID(ctx, t, id, record)
	if err != nil {
		h.discard(ctx, t.Collection, id)
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(engine.Envelope{
		Status:  "success",
		Message: fmt.Sprintf("Resume %s uploaded and extracted", filename),
		Data:    created,
	})
}

func (h *Handler) discard(ctx context.Context, collection, id string) {
	if err := h.blobs.Delete(ctx, collection, id); err != nil {
		log.Printf("WARN: failed to remove blob %s/%s after a failed upload: %v", collection, id, err)
	}
}

// prompt returns the content of the prompt with id, or of the oldest
// active prompt when id is empty.
func (h *Handler) prompt(ctx context.Context, id string) (string, error) {
	t := h.tables.Registry().GetTable("prompts")
	if t == nil {
		return "", engine.BadRequestError("No prompts table is configured")
	}

	var doc map[string]any
	if id != "" {
		found, err := h.store.FindByID(ctx, t.Collection, id)
		if errors.Is(err, store.ErrNotFound) {
			return "", engine.BadRequestError(fmt.Sprintf("Prompt %s does not exist", id))
		}
		if err != nil {
			return "", fmt.Errorf("load prompt %s: %w", id, err)
		}
		doc = found
	} else {
		rows, err := h.store.Find(ctx, t.Collection, store.Query{
			Filter: store.Eq(activePath, true),
			Sort:   []store.SortField{{Path: document.Path{metadata.FieldCreatedAt}}},
			Limit:  1,
		})
		if err != nil {
			return "", fmt.Errorf("find active prompt: %w", err)
		}
		if len(rows) == 0 {
			return "", engine.BadRequestError("No active extraction prompt; pass promptId or activate one")
		}
		doc = rows[0]
	}

	content, _ := doc["content"].(string)
	if content == "" {
		return "", engine.BadRequestError("Selected prompt has no content")
	}
	return content, nil
}

// provider returns the active provider from the settings table, falling
// back to the configured one.
func (h *Handler) provider(ctx context.Context) (*Provider, error) {
	t := h.tables.Registry().GetTable("settings")
	if t == nil {
		return h.fallback, nil
	}
	rows, err := h.store.Find(ctx, t.Collection, store.Query{
		Filter: store.Eq(activePath, true),
		Sort:   []store.SortField{{Path: document.Path{metadata.FieldUpdatedAt}, Desc: true}},
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("find AI settings: %w", err)
	}
	if len(rows) == 0 {
		return h.fallback, nil
	}
	s := rows[0]
	baseURL, _ := s["baseUrl"].(string)
	if baseURL == "" && h.fallback != nil {
		baseURL = h.fallback.baseURL
	}
	apiKey, _ := s["apiSecret"].(string)
	model, _ := s["model"].(string)
	if p := NewProvider(baseURL, apiKey, model, h.timeout); p != nil {
		return p, nil
	}
	log.Printf("WARN: active AI settings %v are incomplete; using configured provider", s["name"])
	return h.fallback, nil
}

// resumeRecord keeps the extracted leaf fields that map onto the table's
// columns and stamps file name and status.
func resumeRecord(t *metadata.TableConfig, extracted map[string]any, filename string) map[string]any {
	flat := document.Flatten(extracted)
	record := make(map[string]any, len(flat)+2)
	for k, v := range flat {
		if v == nil || k == metadata.FieldID {
			continue
		}
		if _, ok := t.ResolvePath(k); ok {
			record[k] = v
		}
	}
	record["fileName"] = filename

	status, _ := record["status"].(string)
	if col := t.Column("status"); col == nil || !col.HasOption(status) {
		record["status"] = DefaultStatus
	}
	return record
}

// RegisterRoutes mounts the upload endpoint of every blob-backed table
// with one, plus the provider status.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	app.Get("/api/ai/status", append(append([]fiber.Handler{}, middleware...), h.Status)...)
	for _, t := range h.tables.Registry().AllTables() {
		if !t.BlobBacked || t.Endpoints.Upload == "" {
			continue
		}
		slug := t.Slug
		handlers := append(append([]fiber.Handler{}, middleware...), func(c *fiber.Ctx) error {
			return h.Upload(c, slug)
		})
		app.Post(t.Endpoints.Upload, handlers...)
	}
}
