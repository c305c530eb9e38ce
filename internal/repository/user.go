package repository

import (
	"context"

	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/observability"

	"gorm.io/gorm"
)

// summaryChunk is the number of ids resolved per FindSummaries query.
const summaryChunk = 50

type userRepository struct {
	db      *gorm.DB
	log     *observability.RepoLogger
	metrics *observability.StoreMetrics
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	system := db.Dialector.Name()
	return &userRepository{
		db:      db,
		log:     observability.NewRepoLogger(system, "users"),
		metrics: observability.NewStoreMetrics(system),
	}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer r.metrics.Track("create_user")()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return storeError(ctx, err, r.metrics, r.log, "create_user", "User", user.ID)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": user.ID, "username": user.Username})
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	defer r.metrics.Track("find_user")()
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, "find_user", "User", id)
	}
	return &user, nil
}

// FindSummaries resolves ids a chunk at a time in input order and stops once
// a bounded page is full, so a liker preview reads only the head of the list.
func (r *userRepository) FindSummaries(ctx context.Context, ids []string, viewer identity.Principal, page models.Page) ([]models.UserSummary, error) {
	if len(ids) == 0 {
		return []models.UserSummary{}, nil
	}
	defer r.metrics.Track("find_summaries")()

	want := -1
	if page.Limit > 0 {
		want = page.Skip + page.Limit
	}

	var users []*models.User
	found := make(map[string]struct{})
	end := 0
	for end < len(ids) && (want < 0 || len(found) < want) {
		next := min(end+summaryChunk, len(ids))
		var chunk []*models.User
		if err := r.db.WithContext(ctx).
			Where("id IN ? AND active = ?", ids[end:next], true).
			Find(&chunk).Error; err != nil {
			return nil, storeError(ctx, err, r.metrics, r.log, "find_summaries", "User", "")
		}
		for _, u := range chunk {
			found[u.ID] = struct{}{}
		}
		users = append(users, chunk...)
		end = next
	}
	return OrderSummaries(ids[:end], users, viewer, page), nil
}

func (r *userRepository) IsModerator(ctx context.Context, id string) (bool, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Active && user.Moderator, nil
}
