package memstore

import (
	"context"
	"sync"
	"time"

	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/repository"

	"github.com/google/uuid"
)

// UserStore is an in-memory repository.UserRepository.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*models.User)}
}

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) FindSummaries(ctx context.Context, ids []string, viewer identity.Principal, page models.Page) ([]models.UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			found = append(found, u)
		}
	}
	return repository.OrderSummaries(ids, found, viewer, page), nil
}

func (s *UserStore) IsModerator(ctx context.Context, id string) (bool, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Active && u.Moderator, nil
}

// Deactivate marks a user inactive; resolvers stop returning them.
func (s *UserStore) Deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Active = false
	}
}
