package server

import (
	"strings"

	"murmur/internal/middleware"
	"murmur/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// parsePage reads skip and limit query parameters. A missing or zero
// limit falls back to the configured default and larger limits are
// clamped. Negative values are rejected.
func (s *Server) parsePage(c *fiber.Ctx) (models.Page, error) {
	defaultLimit, maxLimit := s.config.FeedDefaultLimit, s.config.FeedMaxLimit
	if defaultLimit <= 0 {
		defaultLimit = defaultPageLimit
	}
	if maxLimit <= 0 {
		maxLimit = maxPageLimit
	}

	page := models.Page{
		Skip:  c.QueryInt("skip", 0),
		Limit: c.QueryInt("limit", defaultLimit),
	}
	if err := page.Validate(); err != nil {
		return page, err
	}
	if page.Limit == 0 {
		page.Limit = defaultLimit
	}
	page.Limit = min(page.Limit, maxLimit)
	return page, nil
}

// splitIDs parses a comma separated id list, dropping blanks.
func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// respondError writes err with the status its code maps to. Unexpected
// failures are logged with the request context.
func respondError(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(), "path", c.Path(), "error", err)
	}
	return models.RespondWithError(c, status, err)
}

// currentUserID returns the authenticated user. Handlers behind
// AuthRequired can rely on it being set.
func currentUserID(c *fiber.Ctx) string {
	id, _ := middleware.CurrentUserID(c)
	return id
}
