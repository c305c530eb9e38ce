// Package middleware provides the Fiber middleware stack: request context,
// structured logging, tracing, metrics, viewer extraction and rate limiting.
package middleware

import (
	"context"

	"murmur/internal/config"
	"murmur/internal/identity"
	"murmur/internal/models"

	"github.com/gofiber/fiber/v2"
)

var cfg *config.Config

// InitMiddleware initializes middleware settings with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// Authenticate attaches a lazily resolved Viewer for the request's bearer
// token. Requests without a token get an anonymous viewer. Nothing is
// rejected here.
func Authenticate(verifier *identity.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		viewer := verifier.Viewer(identity.BearerToken(c.Get("Authorization")))
		c.SetUserContext(identity.WithViewer(c.UserContext(), viewer))
		return c.Next()
	}
}

// AuthRequired resolves the request's viewer and rejects anonymous or
// invalid credentials with 401. The user id is stored in locals and on
// the user context for logging.
func AuthRequired(c *fiber.Ctx) error {
	ctx := c.UserContext()
	principal, err := identity.ViewerFrom(ctx).Resolve(ctx)
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}

	user, ok := principal.(identity.Authenticated)
	if !ok {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
	}

	c.Locals("userID", user.ID)
	c.SetUserContext(context.WithValue(ctx, UserIDKey, user.ID))
	return c.Next()
}

// Viewer returns the viewer attached by Authenticate.
func Viewer(c *fiber.Ctx) identity.Viewer {
	return identity.ViewerFrom(c.UserContext())
}

// CurrentUserID returns the id stored by AuthRequired.
func CurrentUserID(c *fiber.Ctx) (string, bool) {
	id, ok := c.Locals("userID").(string)
	return id, ok && id != ""
}
