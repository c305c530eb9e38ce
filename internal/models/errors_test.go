package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestHasCode_UnwrapsWrappedErrors(t *testing.T) {
	t.Parallel()

	base := NewNotFoundError("Post", "abc")
	wrapped := fmt.Errorf("loading timeline: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, HasCode(wrapped, CodeStoreUnavailable))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFoundError("Post", 1), fiber.StatusNotFound},
		{"unauthorized", NewUnauthorizedError("no"), fiber.StatusUnauthorized},
		{"forbidden", NewForbiddenError("no"), fiber.StatusForbidden},
		{"store unavailable", NewStoreUnavailableError(errors.New("down")), fiber.StatusServiceUnavailable},
		{"invalid operation", NewInvalidOperationError("bad id"), fiber.StatusBadRequest},
		{"validation", NewValidationError("too long"), fiber.StatusBadRequest},
		{"unknown", errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestAppError_ErrorIncludesCause(t *testing.T) {
	t.Parallel()

	err := NewStoreUnavailableError(errors.New("connection refused"))
	assert.Equal(t, "Store unavailable: connection refused", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "connection refused")
}
