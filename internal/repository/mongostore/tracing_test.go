package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"murmur/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() {
		observability.Tracer = prev
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestBegin_RecordsRepositorySpan(t *testing.T) {
	rec := recordSpans(t)
	m := observability.NewStoreMetrics(backend)

	_, end := begin(context.Background(), m, postsCollection, "count")
	require.NoError(t, end(nil))

	boom := errors.New("boom")
	_, end = begin(context.Background(), m, usersCollection, "find_user")
	assert.ErrorIs(t, end(boom), boom)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "repository.count", spans[0].Name())
	assert.Equal(t, "mongodb", attrs(spans[0])["db.system"])
	assert.Equal(t, "posts", attrs(spans[0])["db.table"])
	assert.Empty(t, spans[0].Events())

	assert.Equal(t, "repository.find_user", spans[1].Name())
	assert.Equal(t, "users", attrs(spans[1])["db.table"])
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestPostStore_FailedCallEndsSpanWithError(t *testing.T) {
	rec := recordSpans(t)

	client, err := mongo.Connect(options.Client().
		ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(100 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	store := NewPostStore(client.Database("murmur_test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.FindByID(ctx, "p1")
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "repository.find_by_id", spans[0].Name())
	assert.Equal(t, "find_by_id", attrs(spans[0])["db.operation"])
	assert.NotEmpty(t, spans[0].Events())
}
