// Package auth identifies the user behind a request. Tokens are HS256 JWTs
// whose subject claim is the user ID, the format Supabase issues.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type ctxKey struct{}

// WithUser returns a context carrying userID
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFromContext returns the user stored by WithUser
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(ctxKey{}).(string)
	return userID, ok && userID != ""
}

// ContextSession reads the user from the request context
type ContextSession struct{}

// UserID implements receipt.Session
func (ContextSession) UserID(ctx context.Context) (string, bool) {
	return UserFromContext(ctx)
}

// Authenticator resolves the user of an HTTP request
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// JWT authenticates bearer tokens signed with a shared secret
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT authenticator
func NewJWT(secret string) (*JWT, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Authenticate verifies the Authorization bearer token
func (j *JWT) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", ErrMissingToken
	}
	return j.Verify(strings.TrimSpace(header[len("Bearer "):]))
}

// Verify checks a token and returns its subject
func (j *JWT) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs a token for userID valid for ttl
func (j *JWT) Issue(userID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Static treats every request as coming from one user. It is meant for
// single-user deployments without an identity provider.
type Static struct {
	User string
}

// Authenticate returns the configured user
func (s Static) Authenticate(*http.Request) (string, error) {
	return s.User, nil
}
