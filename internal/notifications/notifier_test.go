package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishUser(context.Background(), "u1", "test payload"))
	assert.NoError(t, n.Publish(context.Background(), Event{Type: PostLiked}))
	assert.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {}))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Publish(context.Background(), Event{Type: PostLiked}))
}

func TestChannels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "notifications:user:u1", UserChannel("u1"))
	assert.Equal(t, "feed:author:u1", AuthorChannel("u1"))

	tests := []struct {
		channel  string
		kind, id string
		ok       bool
	}{
		{"notifications:user:abc", "user", "abc", true},
		{"feed:author:xyz", "author", "xyz", true},
		{"chat:conv:1", "", "", false},
	}
	for _, tt := range tests {
		kind, id, ok := ParseChannel(tt.channel)
		assert.Equal(t, tt.kind, kind, tt.channel)
		assert.Equal(t, tt.id, id, tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
	}
}

type received struct {
	mu   sync.Mutex
	msgs map[string][]Event
}

func (r *received) add(channel, payload string) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[channel] = append(r.msgs[channel], e)
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		n += len(m)
	}
	return n
}

func (r *received) on(channel string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[channel]
}

func TestNotifier_PublishRoutesEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := &received{msgs: map[string][]Event{}}
	require.NoError(t, n.StartPatternSubscriber(ctx, got.add))

	events := []Event{
		{Type: PostCreated, PostID: "p1", ActorID: "alice", AuthorID: "alice"},
		{Type: PostLiked, PostID: "p1", ActorID: "bob", AuthorID: "alice"},
		{Type: PostLiked, PostID: "p1", ActorID: "alice", AuthorID: "alice"},
		{Type: PostReposted, PostID: "p2", ActorID: "bob", AuthorID: "bob", TargetID: "p1", TargetAuthorID: "alice"},
	}
	for _, e := range events {
		require.NoError(t, n.Publish(context.Background(), e))
	}

	// created -> author channel; liked by bob -> alice; self-like -> nobody;
	// repost -> bob's author channel and alice.
	require.Eventually(t, func() bool { return got.count() == 4 }, time.Second, 10*time.Millisecond)

	authorAlice := got.on(AuthorChannel("alice"))
	require.Len(t, authorAlice, 1)
	assert.Equal(t, PostCreated, authorAlice[0].Type)
	assert.False(t, authorAlice[0].At.IsZero())

	toAlice := got.on(UserChannel("alice"))
	require.Len(t, toAlice, 2)
	assert.Equal(t, PostLiked, toAlice[0].Type)
	assert.Equal(t, "bob", toAlice[0].ActorID)
	assert.Equal(t, PostReposted, toAlice[1].Type)

	assert.Len(t, got.on(AuthorChannel("bob")), 1)
}

func TestNotifier_UnknownEventType(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	assert.Error(t, NewNotifier(rdb).Publish(context.Background(), Event{Type: "post_exploded"}))
}

func TestNotifier_StopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())

	payloads := make(chan string, 4)
	require.NoError(t, n.StartPatternSubscriber(ctx, func(_ string, payload string) {
		payloads <- payload
	}))

	require.NoError(t, n.PublishUser(context.Background(), "u1", "before-cancel"))
	select {
	case payload := <-payloads:
		assert.Equal(t, "before-cancel", payload)
	case <-time.After(time.Second):
		t.Fatal("no message before cancel")
	}

	cancel()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, n.PublishUser(context.Background(), "u1", "after-cancel"))
	assert.Never(t, func() bool {
		select {
		case payload := <-payloads:
			return payload == "after-cancel"
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)
}
