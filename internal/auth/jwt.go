// Package auth issues and checks the bearer tokens of the persistence API.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/domain"
)

// Signer issues and validates HS256 tokens whose subject is the owner id.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a signer. A zero ttl issues tokens without expiry.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if len(secret) < 16 {
		return nil, eris.New("jwt secret must be at least 16 characters")
	}
	return &Signer{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a token for owner. label ends up in the "name" claim.
func (s *Signer) Issue(owner, label string) (string, error) {
	if owner == "" {
		return "", eris.New("owner id is required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub": owner,
		"iat": now.Unix(),
	}
	if label != "" {
		claims["name"] = label
	}
	if s.ttl > 0 {
		claims["exp"] = now.Add(s.ttl).Unix()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", eris.Wrap(err, "sign token")
	}
	return signed, nil
}

// Identity is what a valid token says about its bearer.
type Identity struct {
	Owner string
	Label string
}

// Parse validates a token and returns its identity
func (s *Signer) Parse(token string) (Identity, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return Identity{}, domain.ErrUnauthorized
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, domain.ErrUnauthorized
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return Identity{}, domain.ErrUnauthorized
	}
	name, _ := mc["name"].(string)
	return Identity{Owner: sub, Label: name}, nil
}

// ParseHeader validates an Authorization header value.
func (s *Signer) ParseHeader(authz string) (Identity, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(authz), "Bearer ")
	if !ok || token == "" {
		return Identity{}, domain.ErrUnauthorized
	}
	return s.Parse(strings.TrimSpace(token))
}

type ctxKey struct{}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context. onLogin runs once per request with the
// identity, so callers can provision the owner.
func (s *Signer) Middleware(onLogin func(context.Context, Identity) error, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.ParseHeader(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		if onLogin != nil {
			if err := onLogin(r.Context(), id); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"failed to load account"}`))
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
