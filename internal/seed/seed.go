package seed

import (
	"context"
	"errors"
	"time"

	"murmur/internal/models"
	"murmur/internal/repository"
)

// Options controls the size and shape of a seeded dataset.
type Options struct {
	NumUsers int
	NumPosts int
	// RepostRatio is the share of posts that repost an earlier post.
	RepostRatio float64
	// MaxLikes caps likes per post.
	MaxLikes int
	// MaxDays spreads creation times over this many days before now.
	MaxDays int
	// Moderators marks the first N users as moderators.
	Moderators int
	// Seed makes the dataset reproducible; zero picks a random seed.
	Seed int64
}

// DemoOptions is the small dataset used for local in-memory runs.
func DemoOptions() Options {
	return Options{
		NumUsers:    12,
		NumPosts:    60,
		RepostRatio: 0.3,
		MaxLikes:    8,
		MaxDays:     14,
		Moderators:  1,
	}
}

// Result lists everything Seed created, in creation order.
type Result struct {
	Users []*models.User
	Posts []*models.Post
	Likes int
}

// Seed creates users, then posts in ascending creation time so every
// repost is newer than its target, then likes. Reposts target a random
// earlier post, which may itself be a repost, so chains form naturally.
func Seed(ctx context.Context, posts repository.PostRepository, users repository.UserRepository, opts Options) (*Result, error) {
	if opts.NumUsers <= 0 {
		return nil, errors.New("seed: NumUsers must be positive")
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}

	f := NewFactory(posts, users, opts.Seed)
	res := &Result{}

	for i := range opts.NumUsers {
		moderator := i < opts.Moderators
		u, err := f.CreateUser(ctx, func(u *models.User) { u.Moderator = moderator })
		if err != nil {
			return res, err
		}
		res.Users = append(res.Users, u)
	}

	start := f.now().Add(-time.Duration(opts.MaxDays) * 24 * time.Hour)
	step := time.Duration(opts.MaxDays) * 24 * time.Hour / time.Duration(max(opts.NumPosts, 1))
	for i := range opts.NumPosts {
		author := res.Users[f.faker.Number(0, len(res.Users)-1)]
		var target *models.Post
		if i > 0 && f.faker.Float64() < opts.RepostRatio {
			target = res.Posts[f.faker.Number(0, i-1)]
		}
		at := start.Add(time.Duration(i)*step + time.Duration(f.faker.Number(0, 59))*time.Second)
		p, err := f.CreatePost(ctx, author, target, at)
		if err != nil {
			return res, err
		}
		res.Posts = append(res.Posts, p)
	}

	if opts.MaxLikes > 0 {
		for _, p := range res.Posts {
			likers := pick(f, res.Users, f.faker.Number(0, opts.MaxLikes))
			if err := f.LikeBy(ctx, p, likers); err != nil {
				return res, err
			}
			res.Likes += len(likers)
		}
	}

	return res, nil
}
