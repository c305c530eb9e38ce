// Package notifications publishes feed events over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType names a feed mutation.
type EventType string

const (
	PostCreated  EventType = "post_created"
	PostReposted EventType = "post_reposted"
	PostLiked    EventType = "post_liked"
	PostDeleted  EventType = "post_deleted"
)

// Event is the JSON payload published for a feed mutation. AuthorID is the
// author of PostID; for reposts TargetAuthorID is the author of TargetID.
type Event struct {
	Type           EventType `json:"type"`
	PostID         string    `json:"post_id"`
	ActorID        string    `json:"actor_id"`
	AuthorID       string    `json:"author_id"`
	TargetID       string    `json:"target_id,omitempty"`
	TargetAuthorID string    `json:"target_author_id,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier provides helpers to publish notifications into Redis channels.
// A Notifier without a client is a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish fans an event out to the channels interested in it: the acting
// author's timeline channel for new posts, and the notification channel of
// whoever was liked or reposted. Acting on your own post notifies nobody.
func (n *Notifier) Publish(ctx context.Context, e Event) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var channels []string
	switch e.Type {
	case PostCreated, PostDeleted:
		channels = append(channels, AuthorChannel(e.AuthorID))
	case PostReposted:
		channels = append(channels, AuthorChannel(e.AuthorID))
		if e.TargetAuthorID != "" && e.TargetAuthorID != e.ActorID {
			channels = append(channels, UserChannel(e.TargetAuthorID))
		}
	case PostLiked:
		if e.AuthorID != e.ActorID {
			channels = append(channels, UserChannel(e.AuthorID))
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	if len(channels) == 0 {
		return nil
	}
	pipe := n.rdb.Pipeline()
	for _, ch := range channels {
		pipe.Publish(ctx, ch, payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// PublishUser sends a raw payload to a user's notification channel.
func (n *Notifier) PublishUser(ctx context.Context, userID, payload string) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// StartPatternSubscriber subscribes to every user and author channel and
// calls onMessage for each incoming message until ctx is done.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, UserChannel("*"), AuthorChannel("*"))
	// Wait for the subscription to be confirmed so no message published
	// after we return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in PatternSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user's notifications.
func UserChannel(userID string) string {
	return "notifications:user:" + userID
}

// AuthorChannel derives the Redis channel that carries an author's new
// posts, for timeline subscribers.
func AuthorChannel(authorID string) string {
	return "feed:author:" + authorID
}

// ParseChannel splits a channel name into its kind ("user" or "author")
// and id.
func ParseChannel(channel string) (kind, id string, ok bool) {
	if id, ok := strings.CutPrefix(channel, "notifications:user:"); ok {
		return "user", id, true
	}
	if id, ok := strings.CutPrefix(channel, "feed:author:"); ok {
		return "author", id, true
	}
	return "", "", false
}
