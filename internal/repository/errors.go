package repository

import (
	"context"
	"errors"

	"murmur/internal/models"
	"murmur/internal/observability"

	"gorm.io/gorm"
)

// storeError translates a GORM error. Record-not-found becomes NOT_FOUND,
// context cancellation passes through untouched, everything else is
// reported and wrapped as STORE_UNAVAILABLE.
func storeError(ctx context.Context, err error, m *observability.StoreMetrics, l *observability.RepoLogger, op, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError(resource, id)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	m.Failed(op)
	l.LogError(ctx, err, op)
	return models.NewStoreUnavailableError(err)
}
