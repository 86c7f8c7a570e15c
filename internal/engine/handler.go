package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"resume-backend/internal/metadata"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope wraps every successful response.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *fiber.Ctx, status int, msg string, data any) error {
	return c.Status(status).JSON(Envelope{Status: "success", Message: msg, Data: data})
}

// Handler serves the generic table routes for every registered table.
type Handler struct {
	store    store.DocumentStore
	registry *metadata.Registry
	roles    *RoleResolver
	blobs    storage.FileStorage
	cleanup  *BlobCleanup
	now      func() time.Time
}

func NewHandler(s store.DocumentStore, reg *metadata.Registry, roles *RoleResolver, blobs storage.FileStorage, cleanup *BlobCleanup) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		roles:    roles,
		blobs:    blobs,
		cleanup:  cleanup,
		now:      time.Now,
	}
}

// Registry exposes the table registry to collaborating handlers.
func (h *Handler) Registry() *metadata.Registry { return h.registry }

// Roles exposes the role and user-state resolver.
func (h *Handler) Roles() *RoleResolver { return h.roles }

// Principal returns the authenticated caller with its role resolved.
func (h *Handler) Principal(c *fiber.Ctx) (*metadata.Principal, error) { return h.principal(c) }

// ListTables handles GET /table.
func (h *Handler) ListTables(c *fiber.Ctx) error {
	p, err := h.principal(c)
	if err != nil {
		return err
	}
	if p == nil {
		return UnauthorizedError("Authentication required")
	}
	tables := make([]*metadata.TableConfig, 0)
	for _, t := range h.registry.AllTables() {
		if visibleTo(p, t) {
			tables = append(tables, t)
		}
	}
	return respond(c, fiber.StatusOK, fmt.Sprintf("%d tables available", len(tables)), tables)
}

// GetConfig handles GET /table/:slug/config.
func (h *Handler) GetConfig(c *fiber.Ctx) error {
	t, p, err := h.resolve(c)
	if err != nil {
		return err
	}
	if err := Authorize(p, tableCapabilities(t, metadata.ActionRead)...); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fmt.Sprintf("%s configuration", t.Title), t)
}

// List handles GET /table/:slug, or an export with ?action=export.
func (h *Handler) List(c *fiber.Ctx) error {
	t, p, err := h.resolve(c)
	if err != nil {
		return err
	}
	switch c.Query("action") {
	case "":
	case "export":
		return h.Export(c, t, p)
	default:
		return BadRequestError(fmt.Sprintf("Unknown action: %s", c.Query("action")))
	}

	if err := Authorize(p, tableCapabilities(t, metadata.ActionRead)...); err != nil {
		return err
	}
	req, err := ParseListRequest(c, t)
	if err != nil {
		return err
	}
	page, err := ExecuteList(c.Context(), h.store, t, req)
	if err != nil {
		return err
	}
	if t.Kind == metadata.KindUsers {
		h.roles.AttachRoleNames(c.Context(), page.Items)
	}
	return respond(c, fiber.StatusOK, fmt.Sprintf("%s retrieved successfully", t.Title), page)
}

// Post handles POST /table/:slug: create, or import, bulk-update and
// bulk-delete through ?action=.
func (h *Handler) Post(c *fiber.Ctx) error {
	t, p, err := h.resolve(c)
	if err != nil {
		return err
	}
	switch action := c.Query("action"); action {
	case "":
		return h.create(c, t, p)
	case "import":
		return h.Import(c, t, p)
	case "bulk-update":
		return h.bulkUpdate(c, t, p)
	case "bulk-delete":
		return h.bulkDelete(c, t, p)
	default:
		return BadRequestError(fmt.Sprintf("Unknown action: %s", action))
	}
}

func (h *Handler) create(c *fiber.Ctx, t *metadata.TableConfig, p *metadata.Principal) error {
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	record, err := h.CreateRecord(c.Context(), p, t, body)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, fmt.Sprintf("%s record created", t.Title), record)
}

// Update handles PUT /table/:slug with the id in ?id= or the body.
func (h *Handler) Update(c *fiber.Ctx) error {
	t, p, err := h.resolve(c)
	if err != nil {
		return err
	}
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	id := idParam(c, body)
	if id == "" {
		return BadRequestError("Record id is required")
	}
	record, found, err := h.UpdateRecord(c.Context(), p, t, id, body)
	if err != nil {
		return err
	}
	if !found {
		return respond(c, fiber.StatusOK, fmt.Sprintf("%s record %s not found", t.Title, id), fiber.Map{"id": id, "found": false})
	}
	return respond(c, fiber.StatusOK, fmt.Sprintf("%s record updated", t.Title), record)
}

// Delete handles DELETE /table/:slug with the id in ?id= or the body.
func (h *Handler) Delete(c *fiber.Ctx) error {
	t, p, err := h.resolve(c)
	if err != nil {
		return err
	}
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	id := idParam(c, body)
	if id == "" {
		return BadRequestError("Record id is required")
	}
	res, err := h.DeleteRecord(c.Context(), p, t, id)
	if err != nil {
		return err
	}
	switch {
	case res.DeletedCount == 0:
		return respond(c, fiber.StatusOK, fmt.Sprintf("%s record %s not found", t.Title, id), fiber.Map{"id": id, "found": false})
	case res.CleanupPending:
		return respond(c, fiber.StatusOK, fmt.Sprintf("%s record deleted; file cleanup pending", t.Title), fiber.Map{"id": id, "cleanupPending": true})
	}
	return respond(c, fiber.StatusOK, fmt.Sprintf("%s record deleted", t.Title), fiber.Map{"id": id})
}

type bulkRequest struct {
	IDs     []string       `json:"ids"`
	Updates map[string]any `json:"updates"`
}

func parseBulk(c *fiber.Ctx) (*bulkRequest, error) {
	var req bulkRequest
	if len(c.Body()) == 0 {
		return nil, BadRequestError("Request body is required")
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return nil, BadRequestError("Invalid JSON body")
	}
	return &req, nil
}

func (h *Handler) bulkUpdate(c *fiber.Ctx, t *metadata.TableConfig, p *metadata.Principal) error {
	req, err := parseBulk(c)
	if err != nil {
		return err
	}
	updated, err := h.BulkUpdate(c.Context(), p, t, req.IDs, req.Updates)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fmt.Sprintf("%d %s records updated", len(updated), t.Slug),
		fiber.Map{"updatedCount": len(updated), "updated": updated})
}

func (h *Handler) bulkDelete(c *fiber.Ctx, t *metadata.TableConfig, p *metadata.Principal) error {
	req, err := parseBulk(c)
	if err != nil {
		return err
	}
	res, err := h.BulkDelete(c.Context(), p, t, req.IDs)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("%d %s records deleted", res.DeletedCount, t.Slug)
	if res.CleanupPending {
		msg += "; file cleanup pending"
	}
	return respond(c, fiber.StatusOK, msg, res)
}

// resolve returns the table named by :slug and the caller.
func (h *Handler) resolve(c *fiber.Ctx) (*metadata.TableConfig, *metadata.Principal, error) {
	slug := c.Params("slug")
	t := h.registry.GetTable(slug)
	if t == nil {
		return nil, nil, UnknownTableError(slug)
	}
	p, err := h.principal(c)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}

func parseBody(c *fiber.Ctx) (map[string]any, error) {
	body := map[string]any{}
	if len(c.Body()) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return nil, BadRequestError("Invalid JSON body")
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// ErrorHandler is the fiber error handler: taxonomy errors keep their
// status and code, everything else becomes a logged 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if appErr := AsAppError(err); appErr != nil {
		return respondError(c, appErr)
	}
	log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	return respondError(c, NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Internal server error"))
}
