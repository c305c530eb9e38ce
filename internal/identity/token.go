package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"murmur/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidSigningMethod = errors.New("invalid signing method")

// UserLookup finds a user by id. Missing users yield a NOT_FOUND AppError.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Verifier checks HS256 bearer tokens and turns them into Viewers.
type Verifier struct {
	secret []byte
	users  UserLookup
}

func NewVerifier(secret string, users UserLookup) *Verifier {
	return &Verifier{secret: []byte(secret), users: users}
}

// Subject validates tokenString and returns its "sub" claim.
func (v *Verifier) Subject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidSigningMethod
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", models.NewUnauthorizedError("Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", models.NewUnauthorizedError("Invalid token structure - missing subject")
	}
	return sub, nil
}

// Viewer returns a lazily resolved Viewer for tokenString. An empty token
// resolves to Anonymous. A bad token, or one whose subject is unknown or
// inactive, resolves to Anonymous together with an UNAUTHORIZED error.
func (v *Verifier) Viewer(tokenString string) Viewer {
	if tokenString == "" {
		return AnonymousViewer()
	}
	tv := &tokenViewer{verifier: v, token: tokenString}
	return tv
}

type tokenViewer struct {
	verifier *Verifier
	token    string

	once      sync.Once
	principal Principal
	err       error
}

func (t *tokenViewer) Resolve(ctx context.Context) (Principal, error) {
	t.once.Do(func() {
		t.principal, t.err = t.verifier.resolve(ctx, t.token)
	})
	return t.principal, t.err
}

func (v *Verifier) resolve(ctx context.Context, tokenString string) (Principal, error) {
	sub, err := v.Subject(tokenString)
	if err != nil {
		return Anonymous{}, err
	}

	user, err := v.users.FindByID(ctx, sub)
	if err != nil {
		if models.IsNotFound(err) {
			return Anonymous{}, models.NewUnauthorizedError("Unknown user")
		}
		return Anonymous{}, err
	}
	if !user.Active {
		return Anonymous{}, models.NewUnauthorizedError("User is inactive")
	}
	return FromUser(user), nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Anything else yields "".
func BearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
