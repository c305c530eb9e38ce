// Package mongostore implements the post store and user resolver on
// MongoDB. Liker sets are embedded arrays maintained with $addToSet/$pull.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"murmur/internal/models"
	"murmur/internal/observability"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	postsCollection = "posts"
	usersCollection = "users"
	backend         = "mongodb"
)

// Connect opens a client for uri, pings the primary and returns the
// named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	observability.GlobalLogger.Info("MongoDB connected successfully", "database", database)
	return client, client.Database(database), nil
}

// EnsureIndexes creates the indexes the feed queries rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(postsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("author_createdAt")},
		{Keys: bson.D{{Key: "repost_target_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("repostTarget_createdAt")},
		{Keys: bson.D{{Key: "repost_target_id", Value: 1}, {Key: "author_id", Value: 1}}, Options: options.Index().SetName("repostTarget_author")},
	})
	if err != nil {
		return fmt.Errorf("creating post indexes: %w", err)
	}
	_, err = db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetName("username").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating user indexes: %w", err)
	}
	return nil
}

// begin opens a repository span and a latency timer for op. The returned
// func closes both and records err on the span.
func begin(ctx context.Context, m *observability.StoreMetrics, collection, op string) (context.Context, func(error) error) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, backend, op, collection)
	done := m.Track(op)
	return ctx, func(err error) error {
		done()
		observability.EndSpan(span, err)
		return err
	}
}

func storeError(ctx context.Context, err error, m *observability.StoreMetrics, l *observability.RepoLogger, op, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return models.NewNotFoundError(resource, id)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	m.Failed(op)
	l.LogError(ctx, err, op)
	return models.NewStoreUnavailableError(err)
}
