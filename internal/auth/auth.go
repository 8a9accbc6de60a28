// Package auth verifies the bearer tokens issued by the identity provider and
// extracts the caller's user id. Tokens are never issued here.
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

// ErrNotAuthenticated is returned when a request carries no valid token.
var ErrNotAuthenticated = errors.New("not authenticated")

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer requires the iss claim to equal iss.
func WithIssuer(iss string) Option {
	return func(v *Verifier) { v.issuer = iss }
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: missing secret")
	}
	v := &Verifier{secret: secret, leeway: 30 * time.Second}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses tok and returns its subject. Any "Bearer " prefix is ignored.
func (v *Verifier) Verify(tok string) (string, error) {
	tok = strings.TrimSpace(strings.TrimPrefix(tok, "Bearer "))
	if tok == "" {
		return "", fmt.Errorf("%w: missing token", ErrNotAuthenticated)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrNotAuthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrNotAuthenticated)
	}
	return claims.Subject, nil
}

// UserID verifies the request's Authorization header.
func (v *Verifier) UserID(r *http.Request) (string, error) {
	return v.Verify(r.Header.Get("Authorization"))
}

type ctxKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFrom returns the user id stored by WithUserID.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
