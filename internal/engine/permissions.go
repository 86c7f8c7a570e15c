package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/cache"
	"resume-backend/internal/document"
	"resume-backend/internal/metadata"
	"resume-backend/internal/store"
)

// UnknownRoleName is shown for users whose role id does not resolve.
const UnknownRoleName = "Unknown Role"

// RoleResolver loads roles by id through a short-lived cache.
type RoleResolver struct {
	store    store.DocumentStore
	registry *metadata.Registry
	cache    cache.Cache
	ttl      time.Duration
}

func NewRoleResolver(s store.DocumentStore, reg *metadata.Registry, c cache.Cache, ttl time.Duration) *RoleResolver {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &RoleResolver{store: s, registry: reg, cache: c, ttl: ttl}
}

func roleCacheKey(id string) string { return "role:" + id }

// Resolve returns the role with id, or nil when it does not exist.
func (r *RoleResolver) Resolve(ctx context.Context, id string) (*metadata.Role, error) {
	if id == "" {
		return nil, nil
	}
	if raw, ok, err := r.cache.Get(ctx, roleCacheKey(id)); err != nil {
		log.Printf("WARN: role cache get %s: %v", id, err)
	} else if ok {
		var role metadata.Role
		if err := json.Unmarshal(raw, &role); err == nil {
			return &role, nil
		}
	}

	roles := r.registry.TableByKind(metadata.KindRoles)
	if roles == nil {
		return nil, nil
	}
	doc, err := r.store.FindByID(ctx, roles.Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load role %s: %w", id, err)
	}
	role, err := metadata.RoleFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(role); err == nil {
		if err := r.cache.Set(ctx, roleCacheKey(id), raw, r.ttl); err != nil {
			log.Printf("WARN: role cache set %s: %v", id, err)
		}
	}
	return role, nil
}

func userCacheKey(id string) string { return "user:" + id }

// UserActive reports whether the user with id still exists and is not
// disabled. A missing active flag counts as active.
func (r *RoleResolver) UserActive(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if raw, ok, err := r.cache.Get(ctx, userCacheKey(id)); err != nil {
		log.Printf("WARN: user cache get %s: %v", id, err)
	} else if ok {
		return string(raw) == "1", nil
	}

	users := r.registry.TableByKind(metadata.KindUsers)
	if users == nil {
		return false, nil
	}
	active := true
	doc, err := r.store.FindByID(ctx, users.Collection, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		active = false
	case err != nil:
		return false, fmt.Errorf("load user %s: %w", id, err)
	default:
		if flag, ok := doc["active"].(bool); ok {
			active = flag
		}
	}
	raw := []byte("0")
	if active {
		raw = []byte("1")
	}
	if err := r.cache.Set(ctx, userCacheKey(id), raw, r.ttl); err != nil {
		log.Printf("WARN: user cache set %s: %v", id, err)
	}
	return active, nil
}

// invalidate drops cached roles or user states after a mutation of t.
func (r *RoleResolver) invalidate(ctx context.Context, t *metadata.TableConfig, ids ...string) {
	if len(ids) == 0 {
		return
	}
	key := roleCacheKey
	switch t.Kind {
	case metadata.KindRoles:
	case metadata.KindUsers:
		key = userCacheKey
	default:
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		log.Printf("WARN: %s cache delete: %v", t.Kind, err)
	}
}

// AttachRoleNames sets roleName on each user record from its role id.
// Unresolvable roles become UnknownRoleName; lookup errors never fail the page.
func (r *RoleResolver) AttachRoleNames(ctx context.Context, users []map[string]any) {
	names := make(map[string]string)
	for _, u := range users {
		id, _ := u["role"].(string)
		name, seen := names[id]
		if !seen {
			name = UnknownRoleName
			role, err := r.Resolve(ctx, id)
			if err != nil {
				log.Printf("WARN: resolve role %s: %v", id, err)
			} else if role != nil {
				name = role.Name
			}
			names[id] = name
		}
		u["roleName"] = name
	}
}

// principal returns the authenticated caller with its role resolved, or
// nil when the request is anonymous.
func (h *Handler) principal(c *fiber.Ctx) (*metadata.Principal, error) {
	p, _ := c.Locals("user").(*metadata.Principal)
	if p == nil {
		return nil, nil
	}
	if p.Role == nil && p.RoleID != "" {
		role, err := h.roles.Resolve(c.Context(), p.RoleID)
		if err != nil {
			return nil, err
		}
		p.Role = role
	}
	return p, nil
}

// Authorize fails with UNAUTHORIZED for anonymous callers and FORBIDDEN
// unless every capability is held.
func Authorize(p *metadata.Principal, caps ...metadata.Capability) error {
	if p == nil {
		return UnauthorizedError("Authentication required")
	}
	var missing []string
	for _, c := range caps {
		if !p.Can(c) {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return ForbiddenError(fmt.Sprintf("Permission denied: requires %s", strings.Join(missing, ", ")))
	}
	return nil
}

// AuthorizeCreate is the gate every record-creating route shares: the
// module create action, the table's requirements and the user-management
// flags body needs.
func AuthorizeCreate(p *metadata.Principal, t *metadata.TableConfig, body map[string]any) error {
	return Authorize(p, writeCapabilities(t, metadata.ActionCreate, body, false)...)
}

// tableCapabilities returns the capabilities a table action needs: the
// module action plus the table's own requirements.
func tableCapabilities(t *metadata.TableConfig, action metadata.Action, extra ...metadata.Capability) []metadata.Capability {
	caps := []metadata.Capability{metadata.ModuleCapability(t.Module, action)}
	caps = append(caps, t.Requires...)
	return append(caps, extra...)
}

// writeCapabilities adds the user-management and password flags a write
// body needs on top of the module action.
func writeCapabilities(t *metadata.TableConfig, action metadata.Action, body map[string]any, bulk bool) []metadata.Capability {
	var extra []metadata.Capability
	if bulk {
		extra = append(extra, metadata.CapBulkOperation)
	}
	hasPassword := document.ContainsKey(body, document.IsPasswordKey)
	if hasPassword && action == metadata.ActionUpdate {
		extra = append(extra, metadata.CapUpdateUserPassword)
	}
	if t.Kind == metadata.KindUsers {
		switch action {
		case metadata.ActionCreate:
			extra = append(extra, metadata.CapUpdateUsers)
		case metadata.ActionUpdate:
			if hasNonPasswordField(body) {
				extra = append(extra, metadata.CapUpdateUsers)
			}
		case metadata.ActionDelete:
			extra = append(extra, metadata.CapDeleteUsers)
		}
	}
	return tableCapabilities(t, action, extra...)
}

func hasNonPasswordField(body map[string]any) bool {
	for k := range body {
		if k == metadata.FieldID || document.IsPasswordKey(k) {
			continue
		}
		return true
	}
	return false
}

// visibleTo reports whether p may read t.
func visibleTo(p *metadata.Principal, t *metadata.TableConfig) bool {
	return Authorize(p, tableCapabilities(t, metadata.ActionRead)...) == nil
}
