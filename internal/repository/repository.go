// Package repository provides the data access layer: the post store
// and user resolver contracts and their GORM implementation.
package repository

import (
	"context"

	"murmur/internal/identity"
	"murmur/internal/models"
)

// PostRepository is the query surface over persisted posts. Lists are
// sorted by created_at descending. Implementations return NOT_FOUND for a
// missing primary subject and STORE_UNAVAILABLE for backend failures.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	// Update persists post.Body only.
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Post, error)
	// FindByIDs skips ids that do not exist. Result order is unspecified.
	FindByIDs(ctx context.Context, ids []string) ([]*models.Post, error)
	FindByAuthorIDs(ctx context.Context, authorIDs []string, page models.Page) ([]*models.Post, error)
	FindByRepostTarget(ctx context.Context, targetID string, page models.Page) ([]*models.Post, error)
	CountReposts(ctx context.Context, targetID string) (int64, error)
	ExistsRepost(ctx context.Context, authorID, targetID string) (bool, error)
	// AddLiker and RemoveLiker are idempotent and return the current post.
	AddLiker(ctx context.Context, postID, userID string) (*models.Post, error)
	RemoveLiker(ctx context.Context, postID, userID string) (*models.Post, error)
	Count(ctx context.Context) (int64, error)
}

// UserRepository stores accounts and resolves liker summaries.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	// FindSummaries resolves ids in input order, silently dropping ids that
	// are unknown or belong to inactive users, then applies page.
	FindSummaries(ctx context.Context, ids []string, viewer identity.Principal, page models.Page) ([]models.UserSummary, error)
	IsModerator(ctx context.Context, id string) (bool, error)
}

// OrderSummaries arranges users in the order of ids, dropping duplicates,
// unknown ids and inactive users, and then applies page.
func OrderSummaries(ids []string, users []*models.User, viewer identity.Principal, page models.Page) []models.UserSummary {
	byID := make(map[string]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	viewerID, _ := identity.UserID(viewer)

	seen := make(map[string]struct{}, len(ids))
	out := make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		u, ok := byID[id]
		if !ok || !u.Active {
			continue
		}
		out = append(out, u.Summary(viewerID))
	}
	return models.Apply(out, page)
}
