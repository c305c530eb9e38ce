// Package identity models who is asking: an anonymous visitor or an
// authenticated user. Viewers are resolved lazily and at most once.
package identity

import (
	"context"
	"sync"

	"murmur/internal/models"
)

// Principal is a resolved identity. The only implementations are
// Anonymous and Authenticated.
type Principal interface {
	principal()
}

// Anonymous is an unauthenticated visitor.
type Anonymous struct{}

// Authenticated is a verified, active user.
type Authenticated struct {
	ID        string
	Username  string
	Moderator bool
}

func (Anonymous) principal()     {}
func (Authenticated) principal() {}

// FromUser builds the Authenticated variant for u.
func FromUser(u *models.User) Authenticated {
	return Authenticated{ID: u.ID, Username: u.Username, Moderator: u.Moderator}
}

// UserID returns the principal's user id and whether it is authenticated.
func UserID(p Principal) (string, bool) {
	if a, ok := p.(Authenticated); ok {
		return a.ID, true
	}
	return "", false
}

// Viewer yields the Principal for a request. Implementations may suspend
// (token verification, user lookup); callers resolve once and reuse it.
type Viewer interface {
	Resolve(ctx context.Context) (Principal, error)
}

type fixedViewer struct {
	p Principal
}

func (f fixedViewer) Resolve(context.Context) (Principal, error) {
	return f.p, nil
}

// Fixed returns a Viewer that always resolves to p.
func Fixed(p Principal) Viewer {
	return fixedViewer{p: p}
}

// AnonymousViewer is the Viewer of a request without credentials.
func AnonymousViewer() Viewer {
	return fixedViewer{p: Anonymous{}}
}

// As is shorthand for a Viewer authenticated as userID.
func As(userID string) Viewer {
	return fixedViewer{p: Authenticated{ID: userID}}
}

type viewerKey struct{}

// WithViewer stores v on ctx.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, v)
}

// ViewerFrom returns the Viewer stored on ctx, or an anonymous one.
func ViewerFrom(ctx context.Context) Viewer {
	if v, ok := ctx.Value(viewerKey{}).(Viewer); ok && v != nil {
		return v
	}
	return AnonymousViewer()
}

type onceViewer struct {
	inner     Viewer
	once      sync.Once
	principal Principal
	err       error
}

func (o *onceViewer) Resolve(ctx context.Context) (Principal, error) {
	o.once.Do(func() {
		o.principal, o.err = o.inner.Resolve(ctx)
	})
	return o.principal, o.err
}

// Once wraps v so that repeated Resolve calls reuse the first outcome.
func Once(v Viewer) Viewer {
	switch v.(type) {
	case nil:
		return AnonymousViewer()
	case fixedViewer, *onceViewer, *tokenViewer:
		return v
	}
	return &onceViewer{inner: v}
}
