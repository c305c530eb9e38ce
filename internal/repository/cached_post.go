package repository

import (
	"context"
	"time"

	"murmur/internal/cache"
	"murmur/internal/models"
)

// cachedPostRepository serves FindByID from Redis and drops the cached
// entry whenever a post or its liker set changes.
type cachedPostRepository struct {
	PostRepository
	ttl time.Duration
}

// NewCachedPostRepository wraps inner with cache-aside reads. Without a
// Redis client it behaves exactly like inner.
func NewCachedPostRepository(inner PostRepository, ttl time.Duration) PostRepository {
	if ttl <= 0 {
		ttl = cache.PostTTL
	}
	return &cachedPostRepository{PostRepository: inner, ttl: ttl}
}

func (r *cachedPostRepository) FindByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := cache.Aside(ctx, cache.PostKey(id), &post, r.ttl, func() error {
		p, err := r.PostRepository.FindByID(ctx, id)
		if err != nil {
			return err
		}
		post = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *cachedPostRepository) Update(ctx context.Context, post *models.Post) error {
	err := r.PostRepository.Update(ctx, post)
	cache.Invalidate(ctx, cache.PostKey(post.ID))
	return err
}

func (r *cachedPostRepository) Delete(ctx context.Context, id string) error {
	err := r.PostRepository.Delete(ctx, id)
	cache.Invalidate(ctx, cache.PostKey(id))
	return err
}

func (r *cachedPostRepository) AddLiker(ctx context.Context, postID, userID string) (*models.Post, error) {
	post, err := r.PostRepository.AddLiker(ctx, postID, userID)
	cache.Invalidate(ctx, cache.PostKey(postID))
	return post, err
}

func (r *cachedPostRepository) RemoveLiker(ctx context.Context, postID, userID string) (*models.Post, error) {
	post, err := r.PostRepository.RemoveLiker(ctx, postID, userID)
	cache.Invalidate(ctx, cache.PostKey(postID))
	return post, err
}
