package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/document"
	"resume-backend/internal/engine"
	"resume-backend/internal/metadata"
	"resume-backend/internal/store"
)

var tokenPath = document.Path{"token"}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store  store.DocumentStore
	tables *engine.Handler
	issuer *Issuer
	now    func() time.Time
}

// NewAuthHandler creates a new AuthHandler. Users and roles are read
// through the table engine's registry so their collections follow config.
func NewAuthHandler(s store.DocumentStore, tables *engine.Handler, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: s, tables: tables, issuer: NewIssuer(jwtSecret), now: time.Now}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body credentials
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid request body")
	}
	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.Context()
	user, err := h.findUser(ctx, store.Eq(document.Path{"email"}, body.Email))
	if err != nil {
		return err
	}
	if user == nil {
		return engine.UnauthorizedError("Invalid email or password")
	}
	if !isActive(user) {
		return engine.UnauthorizedError("Account is disabled")
	}
	hash, _ := user["password"].(string)
	if !CheckPassword(body.Password, hash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.generateTokenPair(ctx, user)
	if err != nil {
		return err
	}
	log.Printf("User %s logged in", body.Email)
	return c.JSON(fiber.Map{"status": "success", "message": "Login successful", "data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body refreshBody
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()
	rows, err := h.store.Find(ctx, store.RefreshTokensCollection, store.Query{
		Filter: store.Eq(tokenPath, body.RefreshToken),
		Limit:  1,
	})
	if err != nil {
		return fmt.Errorf("find refresh token: %w", err)
	}
	if len(rows) == 0 {
		return engine.UnauthorizedError("Invalid refresh token")
	}
	row := rows[0]
	tokenID, _ := row["id"].(string)

	// Rotation: the presented token is spent whatever happens next.
	if _, err := h.store.DeleteByID(ctx, store.RefreshTokensCollection, tokenID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	expires, _ := row["expiresAt"].(string)
	expiresAt, err := time.Parse(store.TimestampLayout, expires)
	if err != nil || h.now().After(expiresAt) {
		return engine.UnauthorizedError("Refresh token expired")
	}

	userID, _ := row["userId"].(string)
	user, err := h.findUser(ctx, store.IDIn([]string{userID}))
	if err != nil {
		return err
	}
	if user == nil || !isActive(user) {
		return engine.UnauthorizedError("Account is disabled")
	}

	pair, err := h.generateTokenPair(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "message": "Token refreshed", "data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body refreshBody
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()
	rows, err := h.store.Find(ctx, store.RefreshTokensCollection, store.Query{Filter: store.Eq(tokenPath, body.RefreshToken)})
	if err != nil {
		return fmt.Errorf("find refresh token: %w", err)
	}
	for _, row := range rows {
		id, _ := row["id"].(string)
		if _, err := h.store.DeleteByID(ctx, store.RefreshTokensCollection, id); err != nil {
			log.Printf("WARN: logout: delete refresh token %s: %v", id, err)
		}
	}
	return c.JSON(fiber.Map{"status": "success", "message": "Logged out"})
}

// Me handles GET /api/auth/me: the caller's user record, role and
// capabilities.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	p, err := h.tables.Principal(c)
	if err != nil {
		return err
	}
	if p == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	user, err := h.findUser(c.Context(), store.IDIn([]string{p.UserID}))
	if err != nil {
		return err
	}
	if user == nil {
		return engine.UnauthorizedError("User no longer exists")
	}

	document.Redact(user)
	data := fiber.Map{"user": user, "capabilities": []metadata.Capability{}}
	if p.Role != nil {
		user["roleName"] = p.Role.Name
		data["role"] = p.Role
		data["capabilities"] = grantedCapabilities(p.Role)
	} else {
		user["roleName"] = engine.UnknownRoleName
	}
	return c.JSON(fiber.Map{"status": "success", "message": "Current user", "data": data})
}

// Middleware guards protected routes with h's issuer and the table
// engine's cached user state.
func (h *AuthHandler) Middleware() fiber.Handler {
	return h.issuer.Middleware(h.tables.Roles())
}

// RegisterAuthRoutes registers auth routes on the given Fiber app. Only
// /me needs a token.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
	auth.Get("/me", h.Middleware(), h.Me)
}

// --- helpers ---

func (h *AuthHandler) findUser(ctx context.Context, f store.Filter) (map[string]any, error) {
	users := h.tables.Registry().TableByKind(metadata.KindUsers)
	if users == nil {
		return nil, errors.New("no users table is configured")
	}
	rows, err := h.store.Find(ctx, users.Collection, store.Query{Filter: f, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (h *AuthHandler) generateTokenPair(ctx context.Context, user map[string]any) (*TokenPair, error) {
	p := &metadata.Principal{}
	p.UserID, _ = user["id"].(string)
	p.Email, _ = user["email"].(string)
	p.RoleID, _ = user["role"].(string)
	now := h.now()

	accessToken, err := h.issuer.Sign(p, now)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := NewRefreshToken()
	_, err = h.store.Insert(ctx, store.RefreshTokensCollection, map[string]any{
		"userId":    p.UserID,
		"token":     refreshToken,
		"expiresAt": store.Timestamp(now.Add(RefreshTokenTTL)),
	})
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
	}, nil
}

// isActive treats a missing flag as active; only an explicit false disables.
func isActive(user map[string]any) bool {
	active, ok := user["active"].(bool)
	return !ok || active
}

func grantedCapabilities(role *metadata.Role) []metadata.Capability {
	var caps []metadata.Capability
	for c, ok := range role.PermissionSet() {
		if ok {
			caps = append(caps, c)
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
