package mongostore

import (
	"context"
	"time"

	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/observability"
	"murmur/internal/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type userDocument struct {
	ID          string    `bson:"_id"`
	Username    string    `bson:"username"`
	DisplayName string    `bson:"display_name"`
	AvatarURL   string    `bson:"avatar_url"`
	Active      bool      `bson:"active"`
	Moderator   bool      `bson:"moderator"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d *userDocument) model() *models.User {
	return &models.User{
		ID:          d.ID,
		Username:    d.Username,
		DisplayName: d.DisplayName,
		AvatarURL:   d.AvatarURL,
		Active:      d.Active,
		Moderator:   d.Moderator,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// UserStore is a MongoDB-backed repository.UserRepository.
type UserStore struct {
	coll    *mongo.Collection
	log     *observability.RepoLogger
	metrics *observability.StoreMetrics
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{
		coll:    db.Collection(usersCollection),
		log:     observability.NewRepoLogger(backend, usersCollection),
		metrics: observability.NewStoreMetrics(backend),
	}
}

func (s *UserStore) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	return begin(ctx, s.metrics, usersCollection, op)
}

func (s *UserStore) Create(ctx context.Context, user *models.User) (err error) {
	ctx, end := s.begin(ctx, "create_user")
	defer func() { err = end(err) }()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err = s.coll.InsertOne(ctx, userDocument{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Active:      user.Active,
		Moderator:   user.Moderator,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	})
	if err != nil {
		return storeError(ctx, err, s.metrics, s.log, "create_user", "User", user.ID)
	}
	s.log.LogCreate(ctx, map[string]interface{}{"user_id": user.ID, "username": user.Username})
	return nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (_ *models.User, err error) {
	ctx, end := s.begin(ctx, "find_user")
	defer func() { err = end(err) }()

	var doc userDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, storeError(ctx, err, s.metrics, s.log, "find_user", "User", id)
	}
	return doc.model(), nil
}

func (s *UserStore) FindSummaries(ctx context.Context, ids []string, viewer identity.Principal, page models.Page) (_ []models.UserSummary, err error) {
	if len(ids) == 0 {
		return []models.UserSummary{}, nil
	}
	ctx, end := s.begin(ctx, "find_summaries")
	defer func() { err = end(err) }()

	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "active": true})
	if err != nil {
		return nil, storeError(ctx, err, s.metrics, s.log, "find_summaries", "User", "")
	}
	defer cur.Close(ctx)

	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeError(ctx, err, s.metrics, s.log, "find_summaries", "User", "")
	}
	users := make([]*models.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].model())
	}
	return repository.OrderSummaries(ids, users, viewer, page), nil
}

func (s *UserStore) IsModerator(ctx context.Context, id string) (bool, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Active && u.Moderator, nil
}
