package store

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"resume-backend/internal/config"
	"resume-backend/internal/metadata"
)

// System collections owned by the server rather than a table config.
const (
	BlobCleanupCollection   = "_blob_cleanup"
	RefreshTokensCollection = "_refresh_tokens"
)

var defaultStatuses = []map[string]any{
	{"status": "New", "color": "#3b82f6", "order": 1, "description": "Freshly uploaded"},
	{"status": "Reviewing", "color": "#f59e0b", "order": 2, "description": "Under review"},
	{"status": "Shortlisted", "color": "#8b5cf6", "order": 3, "description": "Invited to interview"},
	{"status": "Rejected", "color": "#ef4444", "order": 4, "description": "Not moving forward"},
	{"status": "Hired", "color": "#10b981", "order": 5, "description": "Offer accepted"},
}

const defaultExtractionPrompt = `Extract the candidate's details from the attached resume and reply with a single JSON object with the keys:
name (string), contact (object with email and phone), location (string), skills (array of strings),
experienceYears (number), summary (string). Use null for anything the resume does not state.`

// Bootstrap ensures every collection and unique index exists and seeds an
// administrator role and user, the default statuses and an extraction
// prompt when their collections are empty.
func Bootstrap(ctx context.Context, s DocumentStore, reg *metadata.Registry, admin config.AdminConfig) error {
	for _, t := range reg.AllTables() {
		if err := s.EnsureCollection(ctx, t.Collection, t.Unique); err != nil {
			return fmt.Errorf("ensure collection %s: %w", t.Collection, err)
		}
	}
	if err := s.EnsureCollection(ctx, BlobCleanupCollection, nil); err != nil {
		return err
	}
	if err := s.EnsureCollection(ctx, RefreshTokensCollection, []string{"token"}); err != nil {
		return err
	}

	roleID, err := seedAdminRole(ctx, s, reg)
	if err != nil {
		return err
	}
	if err := seedAdminUser(ctx, s, reg, admin, roleID); err != nil {
		return err
	}
	if t := reg.GetTable("statuses"); t != nil {
		if err := seedIfEmpty(ctx, s, t.Collection, defaultStatuses); err != nil {
			return err
		}
	}
	if t := reg.GetTable("prompts"); t != nil {
		prompt := map[string]any{
			"name":        "Default resume extraction",
			"description": "Extracts contact details, skills and experience",
			"content":     defaultExtractionPrompt,
			"active":      true,
		}
		if err := seedIfEmpty(ctx, s, t.Collection, []map[string]any{prompt}); err != nil {
			return err
		}
	}
	return nil
}

func seedIfEmpty(ctx context.Context, s DocumentStore, coll string, docs []map[string]any) error {
	n, err := s.Count(ctx, coll, nil)
	if err != nil {
		return fmt.Errorf("count %s: %w", coll, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.InsertMany(ctx, coll, docs); err != nil {
		return fmt.Errorf("seed %s: %w", coll, err)
	}
	log.Printf("Seeded %d records into %s", len(docs), coll)
	return nil
}

// seedAdminRole returns the id of the administrator role, creating it when
// the roles collection is empty.
func seedAdminRole(ctx context.Context, s DocumentStore, reg *metadata.Registry) (string, error) {
	roles := reg.TableByKind(metadata.KindRoles)
	if roles == nil {
		return "", nil
	}
	existing, err := s.Find(ctx, roles.Collection, Query{Limit: 1, Sort: []SortField{{Path: []string{"createdAt"}}}})
	if err != nil {
		return "", fmt.Errorf("find roles: %w", err)
	}
	if len(existing) > 0 {
		id, _ := existing[0]["id"].(string)
		return id, nil
	}

	role := metadata.FullAccessRole("Administrator", reg.Modules())
	role.ID = NewID()
	if _, err := s.Insert(ctx, roles.Collection, role.Document()); err != nil {
		return "", fmt.Errorf("seed admin role: %w", err)
	}
	log.Printf("Seeded Administrator role %s", role.ID)
	return role.ID, nil
}

func seedAdminUser(ctx context.Context, s DocumentStore, reg *metadata.Registry, admin config.AdminConfig, roleID string) error {
	users := reg.TableByKind(metadata.KindUsers)
	if users == nil || admin.Email == "" {
		return nil
	}
	n, err := s.Count(ctx, users.Collection, nil)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	_, err = s.Insert(ctx, users.Collection, map[string]any{
		"name":     admin.Name,
		"email":    admin.Email,
		"password": string(hash),
		"role":     roleID,
		"active":   true,
	})
	if err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	log.Printf("WARN: seeded admin user %s with the configured password; change it after first login", admin.Email)
	return nil
}
