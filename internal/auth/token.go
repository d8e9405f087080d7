package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/equipscan/internal/config"
)

var (
	// ErrInvalidCredentials is returned when no configured token matches.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingToken is returned when the request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
)

type ctxKey struct{}

// AnonymousOperator is used when auth is disabled or no request context exists.
const AnonymousOperator = "anonymous"

// WithOperator stores the authenticated operator name in ctx.
func WithOperator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKey{}, name)
}

// Operator returns the operator stored in ctx, or AnonymousOperator.
func Operator(ctx context.Context) string {
	if name, ok := ctx.Value(ctxKey{}).(string); ok && name != "" {
		return name
	}
	return AnonymousOperator
}

// Authenticator checks bearer tokens against bcrypt hashes from config.
type Authenticator struct {
	tokens []config.APIToken
}

func New(tokens []config.APIToken) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Enabled reports whether any token is configured.
func (a *Authenticator) Enabled() bool { return len(a.tokens) > 0 }

// Verify returns the operator name the token belongs to.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	for _, t := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(token)) == nil {
			return t.Name, nil
		}
	}
	return "", ErrInvalidCredentials
}

// Middleware rejects requests without a valid bearer token. With no tokens
// configured every request passes as AnonymousOperator.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		name, err := a.Verify(extractToken(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="equipscan"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), name)))
	})
}

// extractToken reads the Authorization header, falling back to the token
// query parameter (browsers cannot set headers on websocket upgrades).
func extractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// GenerateToken returns a random 32-byte token (hex) and its bcrypt hash.
func GenerateToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return token, string(h), nil
}
