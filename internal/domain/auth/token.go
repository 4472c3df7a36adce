// Package auth resolves the authenticated customer from a signed access
// token. Tokens are issued elsewhere; this package only verifies them.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for every token failure. Callers must not
// distinguish between missing, malformed, expired or forged tokens.
var ErrUnauthorized = errors.New("unauthorized")

// User is the authenticated customer.
type User struct {
	ID string
}

// Claims is the access token payload.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier creates a TokenVerifier for tokens signed with secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret, now: time.Now}
}

// Verify parses the token and returns the user it was issued for.
func (v *TokenVerifier) Verify(token string) (User, error) {
	if token == "" || len(v.secret) == 0 {
		return User{}, ErrUnauthorized
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || claims.UserID == "" {
		return User{}, ErrUnauthorized
	}
	return User{ID: claims.UserID}, nil
}

type userKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns the authenticated user stored by WithUser.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok && u.ID != ""
}
