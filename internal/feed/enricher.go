// Package feed turns stored posts into the view model clients consume:
// like and repost counts, a liker preview, viewer-relative flags and the
// recursively enriched repost target.
package feed

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"time"

	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/observability"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxRepostDepth = 3
	DefaultLikersPreview  = 5
)

// PostReader is the part of the post store the engine reads from.
type PostReader interface {
	FindByID(ctx context.Context, id string) (*models.Post, error)
	FindByIDs(ctx context.Context, ids []string) ([]*models.Post, error)
	CountReposts(ctx context.Context, targetID string) (int64, error)
	ExistsRepost(ctx context.Context, authorID, targetID string) (bool, error)
}

// UserResolver turns liker ids into summaries, keeping input order.
type UserResolver interface {
	FindSummaries(ctx context.Context, ids []string, viewer identity.Principal, page models.Page) ([]models.UserSummary, error)
}

// Options tunes an Enricher. Zero values select the defaults.
type Options struct {
	// MaxRepostDepth bounds how many nested repost targets are resolved
	// below the entry post.
	MaxRepostDepth int
	// LikersPreview is the number of liker summaries attached per post.
	LikersPreview int
	// Concurrency bounds parallel enrichment within EnrichSequence.
	// 1 or less means sequential.
	Concurrency int
	Logger      *slog.Logger
}

// Enricher is stateless; one instance serves all requests.
type Enricher struct {
	posts PostReader
	users UserResolver
	opts  Options
	log   *slog.Logger
}

func NewEnricher(posts PostReader, users UserResolver, opts Options) *Enricher {
	if opts.MaxRepostDepth <= 0 {
		opts.MaxRepostDepth = DefaultMaxRepostDepth
	}
	if opts.LikersPreview <= 0 {
		opts.LikersPreview = DefaultLikersPreview
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Enricher{posts: posts, users: users, opts: opts, log: log}
}

// Sequential returns a copy of e that enriches pages one post at a time.
func (e *Enricher) Sequential() *Enricher {
	cp := *e
	cp.opts.Concurrency = 1
	return &cp
}

// Enrich computes the enriched view of a single post.
func (e *Enricher) Enrich(ctx context.Context, post *models.Post, viewer identity.Viewer) (*models.EnrichedPost, error) {
	if post == nil {
		return nil, models.NewInvalidOperationError("post is required")
	}
	principal, err := ResolvePrincipal(ctx, viewer)
	if err != nil {
		return nil, err
	}
	r := &run{Enricher: e, principal: principal, fetch: e.posts.FindByID}
	return r.enrich(ctx, post, nil)
}

// EnrichSequence enriches posts and returns them in input order. Callers
// paginate before calling so the work is bounded by the page size. Any
// failure, including cancellation, yields no results at all.
func (e *Enricher) EnrichSequence(ctx context.Context, posts []*models.Post, viewer identity.Viewer) ([]*models.EnrichedPost, error) {
	mode := "sequential"
	if e.opts.Concurrency > 1 && len(posts) > 1 {
		mode = "concurrent"
	}
	ctx, span := observability.GetTraceLayer().TraceEnrichment(ctx, mode, len(posts))
	start := time.Now()

	out, err := e.enrichSequence(ctx, mode, posts, viewer)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	observability.EnrichDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	observability.EnrichedPosts.Add(float64(len(out)))
	return out, nil
}

func (e *Enricher) enrichSequence(ctx context.Context, mode string, posts []*models.Post, viewer identity.Viewer) ([]*models.EnrichedPost, error) {
	if slices.Contains(posts, nil) {
		return nil, models.NewInvalidOperationError("post is required")
	}
	principal, err := ResolvePrincipal(ctx, viewer)
	if err != nil {
		return nil, err
	}

	var out []*models.EnrichedPost
	if mode == "concurrent" {
		out, err = e.enrichConcurrently(ctx, posts, principal)
	} else {
		out, err = e.enrichSequentially(ctx, posts, principal)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Enricher) enrichSequentially(ctx context.Context, posts []*models.Post, principal identity.Principal) ([]*models.EnrichedPost, error) {
	r := &run{Enricher: e, principal: principal, fetch: e.posts.FindByID}
	out := make([]*models.EnrichedPost, len(posts))
	for i, p := range posts {
		ep, err := r.enrich(ctx, p, nil)
		if err != nil {
			return nil, err
		}
		out[i] = ep
	}
	return out, nil
}

func (e *Enricher) enrichConcurrently(ctx context.Context, posts []*models.Post, principal identity.Principal) ([]*models.EnrichedPost, error) {
	loader := newTargetLoader(e.posts)
	r := &run{Enricher: e, principal: principal, fetch: loader.load}

	out := make([]*models.EnrichedPost, len(posts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, p := range posts {
		g.Go(func() error {
			ep, err := r.enrich(gctx, p, nil)
			if err != nil {
				return err
			}
			out[i] = ep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolvePrincipal resolves viewer. An UNAUTHORIZED outcome degrades to
// an anonymous viewer; any other failure is returned.
func ResolvePrincipal(ctx context.Context, viewer identity.Viewer) (identity.Principal, error) {
	if viewer == nil {
		return identity.Anonymous{}, nil
	}
	p, err := viewer.Resolve(ctx)
	if err != nil {
		if models.HasCode(err, models.CodeUnauthorized) {
			return identity.Anonymous{}, nil
		}
		return nil, err
	}
	if p == nil {
		return identity.Anonymous{}, nil
	}
	return p, nil
}

// run carries the per-call state: the resolved principal and how repost
// targets are fetched.
type run struct {
	*Enricher
	principal identity.Principal
	fetch     func(ctx context.Context, id string) (*models.Post, error)
}

// enrich builds the view of post. path holds the ids of the posts above
// it in the current repost chain.
func (r *run) enrich(ctx context.Context, post *models.Post, path []string) (*models.EnrichedPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := models.NewEnrichedPost(post)

	reposts, err := r.posts.CountReposts(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	out.RepostsCount = reposts

	out.Likers = []models.UserSummary{}
	if len(post.LikerIDs) > 0 {
		likers, err := r.users.FindSummaries(ctx, post.LikerIDs, r.principal, models.Page{Limit: r.opts.LikersPreview})
		if err != nil {
			return nil, err
		}
		out.Likers = likers
	}

	switch p := r.principal.(type) {
	case identity.Authenticated:
		liked := post.HasLiker(p.ID)
		reposted, err := r.posts.ExistsRepost(ctx, p.ID, post.ID)
		if err != nil {
			return nil, err
		}
		out.IsLiked = &liked
		out.IsReposted = &reposted
	case identity.Anonymous:
	}

	if post.IsRepost() {
		target, err := r.target(ctx, post, path)
		if err != nil {
			return nil, err
		}
		out.RepostTarget = target
	}
	return out, nil
}

// target resolves the repost target of post. Missing targets, repeated ids
// and chains deeper than MaxRepostDepth all yield nil without error.
func (r *run) target(ctx context.Context, post *models.Post, path []string) (*models.EnrichedPost, error) {
	targetID := *post.RepostTargetID
	chain := append(slices.Clone(path), post.ID)

	if slices.Contains(chain, targetID) {
		observability.RecordRepostOutcome(ctx, observability.RepostTruncatedCycle, post.ID, targetID)
		r.log.DebugContext(ctx, "repost cycle truncated", "post_id", post.ID, "target_id", targetID)
		return nil, nil
	}
	if len(chain) > r.opts.MaxRepostDepth {
		observability.RecordRepostOutcome(ctx, observability.RepostTruncatedDepth, post.ID, targetID)
		r.log.DebugContext(ctx, "repost chain truncated", "post_id", post.ID, "target_id", targetID, "depth", len(chain))
		return nil, nil
	}

	target, err := r.fetch(ctx, targetID)
	if models.IsNotFound(err) {
		observability.RecordRepostOutcome(ctx, observability.RepostMissing, post.ID, targetID)
		r.log.DebugContext(ctx, "repost target missing", "post_id", post.ID, "target_id", targetID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	observability.RecordRepostOutcome(ctx, observability.RepostResolved, post.ID, targetID)
	return r.enrich(ctx, target, chain)
}
