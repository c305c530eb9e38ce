package service

import (
	"context"
	"strings"

	"murmur/internal/featureflags"
	"murmur/internal/feed"
	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/notifications"
	"murmur/internal/observability"
	"murmur/internal/repository"
	"murmur/internal/validation"
)

// FeedService answers feed queries with enriched posts and owns the post
// lifecycle: create, repost, edit, delete, like and unlike.
type FeedService struct {
	posts       repository.PostRepository
	users       feed.UserResolver
	enricher    *feed.Enricher
	flags       *featureflags.Manager
	isModerator func(ctx context.Context, userID string) (bool, error)
	validate    *validation.Validator
	events      EventPublisher
}

// EventPublisher receives an event after each successful mutation.
type EventPublisher interface {
	Publish(ctx context.Context, e notifications.Event) error
}

type CreatePostInput struct {
	AuthorID string `json:"author_id" validate:"required,id"`
	Body     string `json:"body" validate:"required,max=280"`
}

type RepostInput struct {
	AuthorID string `json:"author_id" validate:"required,id"`
	TargetID string `json:"target_id" validate:"required,id"`
	Body     string `json:"body" validate:"max=280"`
}

type UpdatePostInput struct {
	PostID string `json:"post_id" validate:"required,id"`
	UserID string `json:"user_id" validate:"required,id"`
	Body   string `json:"body" validate:"required,max=280"`
}

type DeletePostInput struct {
	PostID string `json:"post_id" validate:"required,id"`
	UserID string `json:"user_id" validate:"required,id"`
}

// NewFeedService wires the feed service. isModerator may be nil, in which
// case only authors can delete their posts.
func NewFeedService(
	posts repository.PostRepository,
	users feed.UserResolver,
	enricher *feed.Enricher,
	flags *featureflags.Manager,
	isModerator func(ctx context.Context, userID string) (bool, error),
) *FeedService {
	return &FeedService{
		posts:       posts,
		users:       users,
		enricher:    enricher,
		flags:       flags,
		isModerator: isModerator,
		validate:    validation.New(),
	}
}

// WithEvents makes s publish feed events through p. Publishing failures
// are logged and never fail the mutation.
func (s *FeedService) WithEvents(p EventPublisher) *FeedService {
	s.events = p
	return s
}

func (s *FeedService) publish(ctx context.Context, e notifications.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish feed event",
			"type", e.Type, "post_id", e.PostID, "error", err)
	}
}

// TimelineForAuthors returns the posts of any of authorIDs, newest first.
func (s *FeedService) TimelineForAuthors(ctx context.Context, authorIDs []string, viewer identity.Viewer, page models.Page) ([]*models.EnrichedPost, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate.IDs("authors", authorIDs); err != nil {
		return nil, err
	}
	if len(authorIDs) == 0 {
		return []*models.EnrichedPost{}, nil
	}

	rctx, span := observability.GetTraceLayer().TraceServiceToRepository(ctx, "PostRepository", "FindByAuthorIDs")
	posts, err := s.posts.FindByAuthorIDs(rctx, authorIDs, page)
	span.End()
	if err != nil {
		return nil, err
	}
	return s.enrichPage(ctx, posts, viewer)
}

// PostsByAuthor is TimelineForAuthors for a single author.
func (s *FeedService) PostsByAuthor(ctx context.Context, authorID string, viewer identity.Viewer, page models.Page) ([]*models.EnrichedPost, error) {
	if err := s.validate.ID("author_id", authorID); err != nil {
		return nil, err
	}
	return s.TimelineForAuthors(ctx, []string{authorID}, viewer, page)
}

// RepostsOf returns the posts reposting postID, newest first. The target
// itself need not exist any more.
func (s *FeedService) RepostsOf(ctx context.Context, postID string, viewer identity.Viewer, page models.Page) ([]*models.EnrichedPost, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate.ID("post_id", postID); err != nil {
		return nil, err
	}

	rctx, span := observability.GetTraceLayer().TraceServiceToRepository(ctx, "PostRepository", "FindByRepostTarget")
	posts, err := s.posts.FindByRepostTarget(rctx, postID, page)
	span.End()
	if err != nil {
		return nil, err
	}
	return s.enrichPage(ctx, posts, viewer)
}

// LikersOf resolves the likers of postID in like order. Unknown and
// inactive users are skipped.
func (s *FeedService) LikersOf(ctx context.Context, postID string, viewer identity.Viewer, page models.Page) ([]models.UserSummary, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate.ID("post_id", postID); err != nil {
		return nil, err
	}

	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	principal, err := feed.ResolvePrincipal(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if len(post.LikerIDs) == 0 {
		return []models.UserSummary{}, nil
	}
	return s.users.FindSummaries(ctx, post.LikerIDs, principal, page)
}

// GetPost returns one enriched post.
func (s *FeedService) GetPost(ctx context.Context, postID string, viewer identity.Viewer) (*models.EnrichedPost, error) {
	if err := s.validate.ID("post_id", postID); err != nil {
		return nil, err
	}
	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return s.enricher.Enrich(ctx, post, viewer)
}

// Like adds userID to the likers of postID. Liking twice is a no-op.
func (s *FeedService) Like(ctx context.Context, userID, postID string) (*models.Post, error) {
	if err := s.validateLike(userID, postID); err != nil {
		return nil, err
	}
	post, err := s.posts.AddLiker(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notifications.Event{
		Type: notifications.PostLiked, PostID: post.ID, ActorID: userID, AuthorID: post.AuthorID,
	})
	return post, nil
}

// Unlike removes userID from the likers of postID. Unliking a post that
// was never liked is a no-op.
func (s *FeedService) Unlike(ctx context.Context, userID, postID string) (*models.Post, error) {
	if err := s.validateLike(userID, postID); err != nil {
		return nil, err
	}
	return s.posts.RemoveLiker(ctx, postID, userID)
}

func (s *FeedService) validateLike(userID, postID string) error {
	if err := s.validate.ID("user_id", userID); err != nil {
		return err
	}
	return s.validate.ID("post_id", postID)
}

// CreatePost publishes a new original post.
func (s *FeedService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	in.Body = strings.TrimSpace(in.Body)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	post := &models.Post{AuthorID: in.AuthorID, Body: in.Body}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	s.publish(ctx, notifications.Event{
		Type: notifications.PostCreated, PostID: post.ID, ActorID: post.AuthorID, AuthorID: post.AuthorID,
	})
	return post, nil
}

// Repost creates a post pointing at an existing target. The body is
// optional.
func (s *FeedService) Repost(ctx context.Context, in RepostInput) (*models.Post, error) {
	in.Body = strings.TrimSpace(in.Body)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	target, err := s.posts.FindByID(ctx, in.TargetID)
	if err != nil {
		return nil, err
	}

	targetID := target.ID
	post := &models.Post{AuthorID: in.AuthorID, Body: in.Body, RepostTargetID: &targetID}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	s.publish(ctx, notifications.Event{
		Type:           notifications.PostReposted,
		PostID:         post.ID,
		ActorID:        post.AuthorID,
		AuthorID:       post.AuthorID,
		TargetID:       target.ID,
		TargetAuthorID: target.AuthorID,
	})
	return post, nil
}

// UpdatePost replaces the body of a post. Only its author may edit it.
func (s *FeedService) UpdatePost(ctx context.Context, in UpdatePostInput) (*models.Post, error) {
	in.Body = strings.TrimSpace(in.Body)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	post, err := s.posts.FindByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != in.UserID {
		return nil, models.NewForbiddenError("You can only update your own posts")
	}

	post.Body = in.Body
	if err := s.posts.Update(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// DeletePost removes a post. Its author and moderators may delete it.
// Reposts of it keep their dangling target id.
func (s *FeedService) DeletePost(ctx context.Context, in DeletePostInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}

	post, err := s.posts.FindByID(ctx, in.PostID)
	if err != nil {
		return err
	}

	byModerator := false
	if post.AuthorID != in.UserID {
		if s.isModerator == nil {
			return models.NewForbiddenError("You can only delete your own posts")
		}
		moderator, err := s.isModerator(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !moderator {
			return models.NewForbiddenError("You can only delete your own posts")
		}
		byModerator = true
	}

	if err := s.posts.Delete(ctx, in.PostID); err != nil {
		return err
	}
	if byModerator {
		observability.NewStructuredLogger().LogServiceCall(ctx, "FeedService", "DeletePost", map[string]interface{}{
			"post_id":   post.ID,
			"author_id": post.AuthorID,
			"moderator": in.UserID,
		})
	}
	s.publish(ctx, notifications.Event{
		Type: notifications.PostDeleted, PostID: post.ID, ActorID: in.UserID, AuthorID: post.AuthorID,
	})
	return nil
}

func (s *FeedService) CountPosts(ctx context.Context) (int64, error) {
	return s.posts.Count(ctx)
}

// enrichPage enriches a page of posts, honoring the parallel_enrichment
// flag for the resolved viewer.
func (s *FeedService) enrichPage(ctx context.Context, posts []*models.Post, viewer identity.Viewer) ([]*models.EnrichedPost, error) {
	viewer = identity.Once(viewer)
	enricher := s.enricher
	if s.flags != nil {
		var userID string
		if p, err := viewer.Resolve(ctx); err == nil {
			userID, _ = identity.UserID(p)
		}
		if !s.flags.EnabledOr(featureflags.ParallelEnrichment, userID, true) {
			enricher = enricher.Sequential()
		}
	}
	return enricher.EnrichSequence(ctx, posts, viewer)
}
