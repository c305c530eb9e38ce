package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"murmur/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type stubUsers struct {
	users map[string]*models.User
	err   error
	calls int
}

func (s *stubUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	return u, nil
}

func signToken(t *testing.T, secret, sub string, exp time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(exp).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifier_Viewer(t *testing.T) {
	t.Parallel()

	users := map[string]*models.User{
		"u-active":   {ID: "u-active", Username: "ada", Active: true, Moderator: true},
		"u-inactive": {ID: "u-inactive", Username: "bob", Active: false},
	}

	tests := []struct {
		name     string
		token    string
		want     Principal
		wantCode string
	}{
		{"no token", "", Anonymous{}, ""},
		{"valid token", signToken(t, testSecret, "u-active", time.Hour), Authenticated{ID: "u-active", Username: "ada", Moderator: true}, ""},
		{"expired token", signToken(t, testSecret, "u-active", -time.Hour), Anonymous{}, models.CodeUnauthorized},
		{"wrong secret", signToken(t, "another-secret-another-secret-123456", "u-active", time.Hour), Anonymous{}, models.CodeUnauthorized},
		{"malformed", "malformed.token.here", Anonymous{}, models.CodeUnauthorized},
		{"unknown user", signToken(t, testSecret, "u-missing", time.Hour), Anonymous{}, models.CodeUnauthorized},
		{"inactive user", signToken(t, testSecret, "u-inactive", time.Hour), Anonymous{}, models.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(testSecret, &stubUsers{users: users})
			p, err := v.Viewer(tt.token).Resolve(context.Background())
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				assert.True(t, models.HasCode(err, tt.wantCode), "got %v", err)
			}
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestVerifier_ViewerResolvesOnce(t *testing.T) {
	t.Parallel()

	lookup := &stubUsers{users: map[string]*models.User{"u1": {ID: "u1", Active: true}}}
	v := NewVerifier(testSecret, lookup).Viewer(signToken(t, testSecret, "u1", time.Hour))

	for range 3 {
		p, err := v.Resolve(context.Background())
		require.NoError(t, err)
		id, ok := UserID(p)
		assert.True(t, ok)
		assert.Equal(t, "u1", id)
	}
	assert.Equal(t, 1, lookup.calls)
}

func TestVerifier_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	down := models.NewStoreUnavailableError(errors.New("dial tcp: refused"))
	v := NewVerifier(testSecret, &stubUsers{err: down})

	_, err := v.Viewer(signToken(t, testSecret, "u1", time.Hour)).Resolve(context.Background())
	assert.True(t, models.HasCode(err, models.CodeStoreUnavailable))
}

func TestVerifier_RejectsNonHMACAlgorithms(t *testing.T) {
	t.Parallel()

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret, &stubUsers{}).Subject(unsigned)
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "", BearerToken("Basic dXNlcjpwYXNz"))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Bearer a b"))
}

func TestViewerFromContext(t *testing.T) {
	t.Parallel()

	p, err := ViewerFrom(context.Background()).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Anonymous{}, p)

	ctx := WithViewer(context.Background(), As("u9"))
	p, err = ViewerFrom(ctx).Resolve(ctx)
	require.NoError(t, err)
	id, ok := UserID(p)
	assert.True(t, ok)
	assert.Equal(t, "u9", id)
}

type countingViewer struct {
	calls int
}

func (c *countingViewer) Resolve(context.Context) (Principal, error) {
	c.calls++
	return Authenticated{ID: "u3"}, nil
}

func TestOnce(t *testing.T) {
	t.Parallel()

	inner := &countingViewer{}
	v := Once(inner)
	for range 3 {
		p, err := v.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Authenticated{ID: "u3"}, p)
	}
	assert.Equal(t, 1, inner.calls)
	assert.Same(t, v, Once(v))

	p, err := Once(nil).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Anonymous{}, p)
}
