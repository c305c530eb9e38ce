package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"murmur/internal/identity"
	"murmur/internal/models"
	"murmur/internal/observability"
	"murmur/internal/repository/memstore"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// countingPosts records which reads the engine issues and can inject
// failures into them.
type countingPosts struct {
	*memstore.PostStore
	findByID     atomic.Int32
	findByIDs    atomic.Int32
	countReposts atomic.Int32
	existsRepost atomic.Int32
	failCount    error
}

func (c *countingPosts) FindByID(ctx context.Context, id string) (*models.Post, error) {
	c.findByID.Add(1)
	return c.PostStore.FindByID(ctx, id)
}

func (c *countingPosts) FindByIDs(ctx context.Context, ids []string) ([]*models.Post, error) {
	c.findByIDs.Add(1)
	return c.PostStore.FindByIDs(ctx, ids)
}

func (c *countingPosts) CountReposts(ctx context.Context, targetID string) (int64, error) {
	c.countReposts.Add(1)
	if c.failCount != nil {
		return 0, c.failCount
	}
	return c.PostStore.CountReposts(ctx, targetID)
}

func (c *countingPosts) ExistsRepost(ctx context.Context, authorID, targetID string) (bool, error) {
	c.existsRepost.Add(1)
	return c.PostStore.ExistsRepost(ctx, authorID, targetID)
}

type countingViewer struct {
	p     identity.Principal
	err   error
	calls atomic.Int32
}

func (v *countingViewer) Resolve(context.Context) (identity.Principal, error) {
	v.calls.Add(1)
	return v.p, v.err
}

type fixture struct {
	posts   *countingPosts
	users   *memstore.UserStore
	created int
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	f := &fixture{
		posts: &countingPosts{PostStore: memstore.NewPostStore()},
		users: memstore.NewUserStore(),
	}
	for _, id := range userIDs {
		require.NoError(t, f.users.Create(context.Background(), &models.User{
			ID:          id,
			Username:    id,
			DisplayName: "User " + id,
			Active:      true,
		}))
	}
	return f
}

func (f *fixture) enricher(t *testing.T, opts Options) *Enricher {
	opts.Logger = slogt.New(t)
	return NewEnricher(f.posts, f.users, opts)
}

func (f *fixture) post(t *testing.T, id, author string, target *string) *models.Post {
	t.Helper()
	f.created++
	p := &models.Post{
		ID:             id,
		AuthorID:       author,
		Body:           "post " + id,
		RepostTargetID: target,
		CreatedAt:      baseTime.Add(time.Duration(f.created) * time.Minute),
	}
	require.NoError(t, f.posts.Create(context.Background(), p))
	return f.reload(t, id)
}

func (f *fixture) like(t *testing.T, postID string, userIDs ...string) *models.Post {
	t.Helper()
	for _, u := range userIDs {
		_, err := f.posts.AddLiker(context.Background(), postID, u)
		require.NoError(t, err)
	}
	return f.reload(t, postID)
}

func (f *fixture) reload(t *testing.T, id string) *models.Post {
	t.Helper()
	p, err := f.posts.PostStore.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func strPtr(s string) *string { return &s }

func TestEnrich_AnonymousViewer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	p := f.post(t, "p1", "alice", nil)
	p = f.like(t, p.ID, "bob")
	f.post(t, "r1", "bob", strPtr("p1"))

	got, err := f.enricher(t, Options{}).Enrich(context.Background(), p, identity.AnonymousViewer())
	require.NoError(t, err)

	assert.Nil(t, got.IsLiked)
	assert.Nil(t, got.IsReposted)
	assert.Equal(t, 1, got.LikesCount)
	assert.Equal(t, int64(1), got.RepostsCount)
	require.Len(t, got.Likers, 1)
	assert.Equal(t, "bob", got.Likers[0].ID)
	assert.False(t, got.Likers[0].IsViewer)
	assert.Zero(t, f.posts.existsRepost.Load())
}

func TestEnrich_AuthenticatedFlags(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob", "carol")
	p := f.post(t, "p1", "alice", nil)
	p = f.like(t, p.ID, "bob")
	f.post(t, "r1", "bob", strPtr("p1"))

	tests := []struct {
		viewer       string
		wantLiked    bool
		wantReposted bool
	}{
		{viewer: "bob", wantLiked: true, wantReposted: true},
		{viewer: "carol", wantLiked: false, wantReposted: false},
		{viewer: "alice", wantLiked: false, wantReposted: false},
	}
	e := f.enricher(t, Options{})
	for _, tt := range tests {
		t.Run(tt.viewer, func(t *testing.T) {
			got, err := e.Enrich(context.Background(), p, identity.As(tt.viewer))
			require.NoError(t, err)
			require.NotNil(t, got.IsLiked)
			require.NotNil(t, got.IsReposted)
			assert.Equal(t, p.HasLiker(tt.viewer), *got.IsLiked)
			assert.Equal(t, tt.wantLiked, *got.IsLiked)
			assert.Equal(t, tt.wantReposted, *got.IsReposted)
			for _, l := range got.Likers {
				assert.Equal(t, l.ID == tt.viewer, l.IsViewer)
			}
		})
	}
}

func TestEnrich_LikersPreview(t *testing.T) {
	t.Parallel()
	ids := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	f := newFixture(t, append([]string{"alice"}, ids...)...)
	f.users.Deactivate("u2")
	p := f.post(t, "p1", "alice", nil)
	p = f.like(t, p.ID, ids...)

	got, err := f.enricher(t, Options{}).Enrich(context.Background(), p, identity.AnonymousViewer())
	require.NoError(t, err)

	assert.Equal(t, 7, got.LikesCount)
	var likers []string
	for _, l := range got.Likers {
		likers = append(likers, l.ID)
	}
	assert.Equal(t, []string{"u1", "u3", "u4", "u5", "u6"}, likers)

	small, err := f.enricher(t, Options{LikersPreview: 2}).Enrich(context.Background(), p, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.Len(t, small.Likers, 2)
}

func TestEnrich_NoLikersSkipsResolver(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice")
	p := f.post(t, "p1", "alice", nil)

	got, err := f.enricher(t, Options{}).Enrich(context.Background(), p, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.NotNil(t, got.Likers)
	assert.Empty(t, got.Likers)
	assert.Zero(t, got.LikesCount)
	assert.Nil(t, got.RepostTarget)
}

func TestEnrich_ResolvesRepostChain(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob", "carol")
	c := f.post(t, "c", "carol", nil)
	f.like(t, c.ID, "alice")
	f.post(t, "b", "bob", strPtr("c"))
	a := f.post(t, "a", "alice", strPtr("b"))
	e := f.enricher(t, Options{})
	ctx := context.Background()

	got, err := e.Enrich(ctx, a, identity.As("alice"))
	require.NoError(t, err)
	require.NotNil(t, got.RepostTarget)
	require.NotNil(t, got.RepostTarget.RepostTarget)

	wantC, err := e.Enrich(ctx, f.reload(t, "c"), identity.As("alice"))
	require.NoError(t, err)
	if diff := cmp.Diff(wantC, got.RepostTarget.RepostTarget); diff != "" {
		t.Errorf("nested target mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got.RepostTarget.Reposted(), "alice reposted b")
}

func TestEnrich_MissingTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	f.post(t, "orig", "alice", nil)
	r := f.post(t, "r", "bob", strPtr("orig"))
	require.NoError(t, f.posts.Delete(context.Background(), "orig"))

	got, err := f.enricher(t, Options{}).Enrich(context.Background(), r, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.Nil(t, got.RepostTarget)
	require.NotNil(t, got.RepostTargetID)
	assert.Equal(t, "orig", *got.RepostTargetID)
}

func TestEnrich_TruncatesDeepChains(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice")
	f.post(t, "e", "alice", nil)
	f.post(t, "d", "alice", strPtr("e"))
	f.post(t, "c", "alice", strPtr("d"))
	f.post(t, "b", "alice", strPtr("c"))
	a := f.post(t, "a", "alice", strPtr("b"))

	got, err := f.enricher(t, Options{}).Enrich(context.Background(), a, identity.AnonymousViewer())
	require.NoError(t, err)

	var resolved []string
	for n := got; n != nil; n = n.RepostTarget {
		resolved = append(resolved, n.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, resolved)

	d := got.RepostTarget.RepostTarget.RepostTarget
	require.NotNil(t, d.RepostTargetID)
	assert.Equal(t, "e", *d.RepostTargetID)

	shallow, err := f.enricher(t, Options{MaxRepostDepth: 1}).Enrich(context.Background(), a, identity.AnonymousViewer())
	require.NoError(t, err)
	require.NotNil(t, shallow.RepostTarget)
	assert.Nil(t, shallow.RepostTarget.RepostTarget)
}

func TestEnrich_TruncatesCycles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	a := f.post(t, "a", "alice", strPtr("b"))
	f.post(t, "b", "bob", strPtr("a"))
	self := f.post(t, "self", "alice", strPtr("self"))
	e := f.enricher(t, Options{MaxRepostDepth: 10})

	got, err := e.Enrich(context.Background(), a, identity.AnonymousViewer())
	require.NoError(t, err)
	require.NotNil(t, got.RepostTarget)
	assert.Equal(t, "b", got.RepostTarget.ID)
	assert.Nil(t, got.RepostTarget.RepostTarget)

	got, err = e.Enrich(context.Background(), self, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.Nil(t, got.RepostTarget)
}

func TestEnrich_RecordsRepostOutcomesOnSpan(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	f.post(t, "b", "bob", strPtr("gone"))
	a := f.post(t, "a", "alice", strPtr("b"))
	loop := f.post(t, "loop", "alice", strPtr("loop"))

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "request")

	e := f.enricher(t, Options{})
	_, err := e.Enrich(ctx, a, identity.AnonymousViewer())
	require.NoError(t, err)
	_, err = e.Enrich(ctx, loop, identity.AnonymousViewer())
	require.NoError(t, err)
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	var got []string
	for _, ev := range spans[0].Events() {
		require.Equal(t, "feed.repost_target", ev.Name)
		kv := map[string]string{}
		for _, a := range ev.Attributes {
			kv[string(a.Key)] = a.Value.AsString()
		}
		got = append(got, kv["feed.post_id"]+">"+kv["feed.target_id"]+":"+kv["feed.outcome"])
	}
	want := []string{
		"a>b:" + observability.RepostResolved,
		"b>gone:" + observability.RepostMissing,
		"loop>loop:" + observability.RepostTruncatedCycle,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("repost events mismatch (-want +got):\n%s", diff)
	}
}

func TestEnrich_ViewerResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	p := f.post(t, "p1", "alice", nil)
	p = f.like(t, p.ID, "bob")
	e := f.enricher(t, Options{})

	t.Run("unauthorized degrades to anonymous", func(t *testing.T) {
		v := &countingViewer{p: identity.Anonymous{}, err: models.NewUnauthorizedError("bad token")}
		got, err := e.Enrich(context.Background(), p, v)
		require.NoError(t, err)
		assert.Nil(t, got.IsLiked)
	})

	t.Run("other failures propagate", func(t *testing.T) {
		boom := models.NewStoreUnavailableError(errors.New("users down"))
		v := &countingViewer{err: boom}
		_, err := e.Enrich(context.Background(), p, v)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil viewer is anonymous", func(t *testing.T) {
		got, err := e.Enrich(context.Background(), p, nil)
		require.NoError(t, err)
		assert.Nil(t, got.IsReposted)
	})
}

func TestEnrich_RejectsNilPost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.enricher(t, Options{}).Enrich(context.Background(), nil, identity.AnonymousViewer())
	assert.True(t, models.HasCode(err, models.CodeInvalidOperation))
}

func seedTimeline(t *testing.T, f *fixture, n int) []*models.Post {
	t.Helper()
	var out []*models.Post
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%02d", i)
		var target *string
		if i > 0 && i%3 == 0 {
			target = strPtr(fmt.Sprintf("p%02d", i-1))
		}
		p := f.post(t, id, "alice", target)
		if i%2 == 0 {
			p = f.like(t, id, "bob")
		}
		out = append(out, p)
	}
	return out
}

func TestEnrichSequence_PreservesOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	posts := seedTimeline(t, f, 12)
	ctx := context.Background()

	want, err := f.enricher(t, Options{}).EnrichSequence(ctx, posts, identity.As("bob"))
	require.NoError(t, err)

	for _, c := range []int{1, 2, 4, 16} {
		t.Run(fmt.Sprintf("concurrency=%d", c), func(t *testing.T) {
			got, err := f.enricher(t, Options{Concurrency: c}).EnrichSequence(ctx, posts, identity.As("bob"))
			require.NoError(t, err)
			require.Len(t, got, len(posts))
			for i, p := range posts {
				assert.Equal(t, p.ID, got[i].ID)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("concurrent result differs (-sequential +concurrent):\n%s", diff)
			}
		})
	}
}

func TestEnrichSequence_ResolvesViewerOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	posts := seedTimeline(t, f, 6)
	v := &countingViewer{p: identity.Authenticated{ID: "bob"}}

	got, err := f.enricher(t, Options{Concurrency: 3}).EnrichSequence(context.Background(), posts, v)
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.Equal(t, int32(1), v.calls.Load())
}

func TestEnrichSequence_BatchesTargetsWhenConcurrent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	posts := seedTimeline(t, f, 9)

	_, err := f.enricher(t, Options{Concurrency: 4}).EnrichSequence(context.Background(), posts, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.Zero(t, f.posts.findByID.Load())
	assert.Positive(t, f.posts.findByIDs.Load())

	f.posts.findByIDs.Store(0)
	_, err = f.enricher(t, Options{Concurrency: 4}).Sequential().EnrichSequence(context.Background(), posts, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.Zero(t, f.posts.findByIDs.Load())
	assert.Positive(t, f.posts.findByID.Load())
}

func TestEnrichSequence_EmptyInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	got, err := f.enricher(t, Options{Concurrency: 4}).EnrichSequence(context.Background(), nil, identity.AnonymousViewer())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnrichSequence_Cancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	posts := seedTimeline(t, f, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, c := range []int{1, 4} {
		got, err := f.enricher(t, Options{Concurrency: c}).EnrichSequence(ctx, posts, identity.AnonymousViewer())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, got)
	}
}

func TestEnrichSequence_StoreFailureFailsWholeCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alice", "bob")
	posts := seedTimeline(t, f, 5)
	f.posts.failCount = models.NewStoreUnavailableError(errors.New("connection refused"))

	for _, c := range []int{1, 4} {
		got, err := f.enricher(t, Options{Concurrency: c}).EnrichSequence(context.Background(), posts, identity.AnonymousViewer())
		assert.True(t, models.HasCode(err, models.CodeStoreUnavailable), "concurrency=%d", c)
		assert.Nil(t, got)
	}
}
