package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"resume-backend/internal/engine"
	"resume-backend/internal/metadata"
)

// UserChecker reports whether a token's user may still act.
type UserChecker interface {
	UserActive(ctx context.Context, userID string) (bool, error)
}

// Middleware validates bearer JWTs and sets the Principal on the request.
// The token's user must still be active. A nil users skips the account check.
func (i *Issuer) Middleware(users UserChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		principal, err := i.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}
		if users != nil {
			active, err := users.UserActive(c.Context(), principal.UserID)
			if err != nil {
				return fmt.Errorf("check user %s: %w", principal.UserID, err)
			}
			if !active {
				return engine.UnauthorizedError("User is disabled or no longer exists")
			}
		}
		c.Locals("user", principal)

		return c.Next()
	}
}

// GetPrincipal extracts the Principal from a Fiber context.
func GetPrincipal(c *fiber.Ctx) *metadata.Principal {
	p, _ := c.Locals("user").(*metadata.Principal)
	return p
}
