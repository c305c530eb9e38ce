// Package memstore keeps posts and users in process memory. It backs the
// DB_DRIVER=memory mode and serves as the reference dataset in tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"murmur/internal/models"

	"github.com/google/uuid"
)

type postEntry struct {
	post *models.Post
	seq  uint64
}

// PostStore is an in-memory repository.PostRepository.
type PostStore struct {
	mu    sync.RWMutex
	posts map[string]*postEntry
	seq   uint64
	now   func() time.Time
}

func NewPostStore() *PostStore {
	return &PostStore{
		posts: make(map[string]*postEntry),
		now:   time.Now,
	}
}

func (s *PostStore) Create(ctx context.Context, post *models.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now()
	}
	post.UpdatedAt = post.CreatedAt
	post.LikerIDs = []string{}

	s.seq++
	s.posts[post.ID] = &postEntry{post: post.Clone(), seq: s.seq}
	return nil
}

func (s *PostStore) Update(ctx context.Context, post *models.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.posts[post.ID]
	if !ok {
		return models.NewNotFoundError("Post", post.ID)
	}
	e.post.Body = post.Body
	e.post.UpdatedAt = s.now()
	*post = *e.post.Clone()
	return nil
}

func (s *PostStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return models.NewNotFoundError("Post", id)
	}
	delete(s.posts, id)
	return nil
}

func (s *PostStore) FindByID(ctx context.Context, id string) (*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.posts[id]
	if !ok {
		return nil, models.NewNotFoundError("Post", id)
	}
	return e.post.Clone(), nil
}

func (s *PostStore) FindByIDs(ctx context.Context, ids []string) ([]*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Post, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.posts[id]; ok {
			out = append(out, e.post.Clone())
		}
	}
	return out, nil
}

func (s *PostStore) FindByAuthorIDs(ctx context.Context, authorIDs []string, page models.Page) ([]*models.Post, error) {
	return s.list(ctx, page, func(p *models.Post) bool {
		return slices.Contains(authorIDs, p.AuthorID)
	})
}

func (s *PostStore) FindByRepostTarget(ctx context.Context, targetID string, page models.Page) ([]*models.Post, error) {
	return s.list(ctx, page, func(p *models.Post) bool {
		return p.RepostTargetID != nil && *p.RepostTargetID == targetID
	})
}

// list returns matching posts newest first; insertion order breaks ties.
func (s *PostStore) list(ctx context.Context, page models.Page, match func(*models.Post) bool) ([]*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*postEntry
	for _, e := range s.posts {
		if match(e.post) {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *postEntry) int {
		if c := b.post.CreatedAt.Compare(a.post.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	entries = models.Apply(entries, page)
	out := make([]*models.Post, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.post.Clone())
	}
	return out, nil
}

func (s *PostStore) CountReposts(ctx context.Context, targetID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.posts {
		if e.post.RepostTargetID != nil && *e.post.RepostTargetID == targetID {
			n++
		}
	}
	return n, nil
}

func (s *PostStore) ExistsRepost(ctx context.Context, authorID, targetID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.posts {
		p := e.post
		if p.AuthorID == authorID && p.RepostTargetID != nil && *p.RepostTargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (s *PostStore) AddLiker(ctx context.Context, postID, userID string) (*models.Post, error) {
	return s.mutateLikers(ctx, postID, func(ids []string) []string {
		if slices.Contains(ids, userID) {
			return ids
		}
		return append(ids, userID)
	})
}

func (s *PostStore) RemoveLiker(ctx context.Context, postID, userID string) (*models.Post, error) {
	return s.mutateLikers(ctx, postID, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == userID })
	})
}

func (s *PostStore) mutateLikers(ctx context.Context, postID string, fn func([]string) []string) (*models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.posts[postID]
	if !ok {
		return nil, models.NewNotFoundError("Post", postID)
	}
	e.post.LikerIDs = fn(e.post.LikerIDs)
	return e.post.Clone(), nil
}

func (s *PostStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.posts)), nil
}
