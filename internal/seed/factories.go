// Package seed provides helpers to create demo data for the feed. These
// helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"murmur/internal/models"
	"murmur/internal/repository"
	"murmur/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
)

// Factory builds domain entities and persists them through the store
// interfaces, so the same presets work against every backend.
type Factory struct {
	posts repository.PostRepository
	users repository.UserRepository
	faker *gofakeit.Faker
	now   func() time.Time

	userSeq int
}

// NewFactory creates a Factory. A zero seed picks a random one.
func NewFactory(posts repository.PostRepository, users repository.UserRepository, seed int64) *Factory {
	return &Factory{
		posts: posts,
		users: users,
		faker: gofakeit.New(seed),
		now:   time.Now,
	}
}

// BuildUser constructs an active user without persisting it.
func (f *Factory) BuildUser(overrides ...func(*models.User)) *models.User {
	f.userSeq++
	first := f.faker.FirstName()
	user := &models.User{
		ID:          f.faker.UUID(),
		Username:    fmt.Sprintf("%s%d", strings.ToLower(first), f.userSeq),
		DisplayName: first + " " + f.faker.LastName(),
		Active:      true,
	}
	user.AvatarURL = fmt.Sprintf("https://picsum.photos/seed/%s/128/128", user.ID)
	for _, o := range overrides {
		o(user)
	}
	return user
}

// CreateUser builds and persists a user.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	user := f.BuildUser(overrides...)
	if err := f.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return user, nil
}

// BuildPost constructs a post by author created at the given time. A
// non-nil target makes it a repost, which sometimes carries no comment.
func (f *Factory) BuildPost(author *models.User, target *models.Post, at time.Time) *models.Post {
	post := &models.Post{
		ID:        f.faker.UUID(),
		AuthorID:  author.ID,
		CreatedAt: at,
	}
	if target != nil {
		id := target.ID
		post.RepostTargetID = &id
		if f.faker.Bool() {
			return post
		}
	}
	post.Body = clip(f.faker.Sentence(f.faker.Number(4, 24)), validation.MaxBodyLength)
	return post
}

// CreatePost builds and persists a post.
func (f *Factory) CreatePost(ctx context.Context, author *models.User, target *models.Post, at time.Time) (*models.Post, error) {
	post := f.BuildPost(author, target, at)
	if err := f.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("create post by %s: %w", author.Username, err)
	}
	return post, nil
}

// LikeBy adds each user as a liker of post.
func (f *Factory) LikeBy(ctx context.Context, post *models.Post, likers []*models.User) error {
	for _, u := range likers {
		if _, err := f.posts.AddLiker(ctx, post.ID, u.ID); err != nil {
			return fmt.Errorf("like post %s: %w", post.ID, err)
		}
	}
	return nil
}

// pick returns n distinct elements of items in random order.
func pick[T any](f *Factory, items []T, n int) []T {
	cp := make([]T, len(items))
	copy(cp, items)
	f.faker.ShuffleAnySlice(cp)
	return cp[:min(n, len(cp))]
}

func clip(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}
