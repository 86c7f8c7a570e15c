package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
	"resume-backend/internal/store"
)

// sanitizeBody drops engine-maintained keys, derived user fields and
// values that still carry the redaction marker from a round-tripped read.
func sanitizeBody(t *metadata.TableConfig, body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch k {
		case metadata.FieldID, metadata.FieldCreatedAt, metadata.FieldUpdatedAt:
			continue
		}
		if t.Kind == metadata.KindUsers && k == "roleName" {
			continue
		}
		if s, ok := v.(string); ok && s == document.RedactionMarker {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			v = stripRedacted(m)
		}
		out[k] = v
	}
	return out
}

func stripRedacted(m map[string]any) map[string]any {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val == document.RedactionMarker {
				delete(m, k)
			}
		case map[string]any:
			stripRedacted(val)
		}
	}
	return m
}

// hashSecrets replaces every password-like value, at any depth, with its
// bcrypt hash.
func hashSecrets(doc map[string]any) error {
	return document.TransformKeys(doc, document.IsPasswordKey, func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, ValidationError([]ErrorDetail{{Field: "password", Rule: "type", Message: "password must be a string"}})
		}
		if strings.TrimSpace(s) == "" {
			return nil, ValidationError([]ErrorDetail{{Field: "password", Rule: "required", Message: "password must not be empty"}})
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		return string(hash), nil
	})
}

// setToPaths splits an update body into dotted-path assignments.
func setToPaths(t *metadata.TableConfig, set map[string]any, strict bool) (map[string]document.Path, error) {
	paths := make(map[string]document.Path, len(set))
	var bad []ErrorDetail
	for k := range set {
		p, err := document.ParsePath(k)
		if err == nil && strict {
			_, err = resolveOrFail(t, k)
		}
		if err != nil {
			bad = append(bad, ErrorDetail{Field: k, Rule: "unknown", Message: fmt.Sprintf("Unknown field: %s", k)})
			continue
		}
		paths[k] = p
	}
	if len(bad) > 0 {
		return nil, ValidationError(bad)
	}
	return paths, nil
}

func resolveOrFail(t *metadata.TableConfig, name string) (document.Path, error) {
	p, ok := t.ResolvePath(name)
	if !ok {
		return nil, fmt.Errorf("unknown field %s", name)
	}
	return p, nil
}

func mergeSet(existing map[string]any, set map[string]any, paths map[string]document.Path) map[string]any {
	merged := document.Clone(existing)
	for k, v := range set {
		paths[k].Set(merged, v)
	}
	return merged
}

// checkRoleReference rejects users whose role id does not exist.
func (h *Handler) checkRoleReference(ctx context.Context, t *metadata.TableConfig, record map[string]any) error {
	if t.Kind != metadata.KindUsers {
		return nil
	}
	id, ok := record["role"].(string)
	if !ok || id == "" {
		return nil
	}
	role, err := h.roles.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if role == nil {
		return ValidationError([]ErrorDetail{{Field: "role", Rule: "reference", Message: fmt.Sprintf("Role %s does not exist", id)}})
	}
	return nil
}

func (h *Handler) storeError(t *metadata.TableConfig, err error) error {
	if errors.Is(err, store.ErrUniqueViolation) {
		fields := "value"
		if len(t.Unique) > 0 {
			fields = strings.Join(t.Unique, ", ")
		}
		return ConflictError(fmt.Sprintf("A %s record with the same %s already exists", t.Slug, fields))
	}
	return err
}

// CreateRecord authorizes and inserts one record.
func (h *Handler) CreateRecord(ctx context.Context, p *metadata.Principal, t *metadata.TableConfig, body map[string]any) (map[string]any, error) {
	if err := AuthorizeCreate(p, t, body); err != nil {
		return nil, err
	}
	return h.InsertRecord(ctx, t, body)
}

// InsertRecord validates, hashes and inserts one record without a
// permission check; callers authorize first.
func (h *Handler) InsertRecord(ctx context.Context, t *metadata.TableConfig, body map[string]any) (map[string]any, error) {
	return h.InsertRecordWithID(ctx, t, "", body)
}

// InsertRecordWithID is InsertRecord with a caller-chosen id, used when a
// blob is stored under the id before the record exists. An empty id lets
// the store assign one.
func (h *Handler) InsertRecordWithID(ctx context.Context, t *metadata.TableConfig, id string, body map[string]any) (map[string]any, error) {
	doc := document.Expand(sanitizeBody(t, body))
	if id != "" {
		doc[metadata.FieldID] = id
	}
	if errs := ValidateRecord(t, doc, metadata.ActionCreate); len(errs) > 0 {
		return nil, ValidationError(errs)
	}
	if err := h.checkRoleReference(ctx, t, doc); err != nil {
		return nil, err
	}
	if err := hashSecrets(doc); err != nil {
		return nil, err
	}
	created, err := h.store.Insert(ctx, t.Collection, doc)
	if err != nil {
		return nil, h.storeError(t, err)
	}
	return document.Redact(created), nil
}

// UpdateRecord merges body into the record with id. A missing record
// returns (nil, false, nil).
func (h *Handler) UpdateRecord(ctx context.Context, p *metadata.Principal, t *metadata.TableConfig, id string, body map[string]any) (map[string]any, bool, error) {
	if err := Authorize(p, writeCapabilities(t, metadata.ActionUpdate, body, false)...); err != nil {
		return nil, false, err
	}
	set := sanitizeBody(t, body)
	if len(set) == 0 {
		return nil, false, BadRequestError("No fields to update")
	}
	paths, err := setToPaths(t, set, false)
	if err != nil {
		return nil, false, err
	}

	existing, err := h.store.FindByID(ctx, t.Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s/%s: %w", t.Slug, id, err)
	}
	merged := mergeSet(existing, set, paths)
	if errs := ValidateRecord(t, merged, metadata.ActionUpdate); len(errs) > 0 {
		return nil, false, ValidationError(errs)
	}
	if err := h.checkRoleReference(ctx, t, merged); err != nil {
		return nil, false, err
	}
	if err := hashSecrets(set); err != nil {
		return nil, false, err
	}

	updated, err := h.store.UpdateByID(ctx, t.Collection, id, set)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, h.storeError(t, err)
	}
	h.roles.invalidate(ctx, t, id)
	return document.Redact(updated), true, nil
}

// DeleteResult reports a delete or bulk delete.
type DeleteResult struct {
	DeletedCount   int      `json:"deletedCount"`
	Deleted        []string `json:"deleted,omitempty"`
	NotFound       []string `json:"notFound,omitempty"`
	CleanupPending bool     `json:"cleanupPending,omitempty"`
}

// DeleteRecord removes one record and, for blob-backed tables, its blob.
func (h *Handler) DeleteRecord(ctx context.Context, p *metadata.Principal, t *metadata.TableConfig, id string) (*DeleteResult, error) {
	return h.deleteRecords(ctx, p, t, []string{id}, false)
}

// BulkDelete removes every record in ids. Missing ids are reported, not
// treated as errors.
func (h *Handler) BulkDelete(ctx context.Context, p *metadata.Principal, t *metadata.TableConfig, ids []string) (*DeleteResult, error) {
	return h.deleteRecords(ctx, p, t, ids, true)
}

func (h *Handler) deleteRecords(ctx context.Context, p *metadata.Principal, t *metadata.TableConfig, ids []string, bulk bool) (*DeleteResult, error) {
	if err := Authorize(p, writeCapabilities(t, metadata.ActionDelete, nil, bulk)...); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, BadRequestError("ids must be a non-empty array")
	}
	if t.Kind == metadata.KindUsers {
		for _, id := range ids {
			if id == p.UserID {
				return nil, ForbiddenError("You cannot delete your own account")
			}
		}
	}

	deleted, err := h.store.DeleteMany(ctx, t.Collection, ids)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", t.Slug, err)
	}

	res := &DeleteResult{DeletedCount: len(deleted), Deleted: deleted}
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
		if t.BlobBacked && h.cleanup.Remove(ctx, t.Collection, id) {
			res.CleanupPending = true
		}
	}
	for _, id := range ids {
		if !gone[id] {
			res.NotFound = append(res.NotFound, id)
		}
	}
	h.roles.invalidate(ctx, t, deleted...)
	return res, nil
}

// BulkUpdate applies the same updates to every record in ids and returns
// the ids that were updated.
func (h *Handler) BulkUpdate(ctx context.Context, p *metadata.Principal, t *metadata.TableConfig, ids []string, updates map[string]any) ([]string, error) {
	if err := Authorize(p, writeCapabilities(t, metadata.ActionUpdate, updates, true)...); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, BadRequestError("ids must be a non-empty array")
	}
	set := sanitizeBody(t, updates)
	if len(set) == 0 {
		return nil, BadRequestError("updates must contain at least one field")
	}
	paths, err := setToPaths(t, set, true)
	if err != nil {
		return nil, err
	}

	existing, err := h.store.FindByIDs(ctx, t.Collection, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.Slug, err)
	}
	var errs []ErrorDetail
	for _, doc := range existing {
		for _, d := range ValidateRecord(t, mergeSet(doc, set, paths), metadata.ActionUpdate) {
			d.Message = fmt.Sprintf("%v: %s", doc["id"], d.Message)
			errs = append(errs, d)
		}
	}
	if len(errs) > 0 {
		return nil, ValidationError(errs)
	}
	if err := h.checkRoleReference(ctx, t, document.Expand(set)); err != nil {
		return nil, err
	}
	if err := hashSecrets(set); err != nil {
		return nil, err
	}

	updated, err := h.store.UpdateMany(ctx, t.Collection, ids, set)
	if err != nil {
		return nil, h.storeError(t, err)
	}
	h.roles.invalidate(ctx, t, updated...)
	return updated, nil
}
