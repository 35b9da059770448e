// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Identity is the caller resolved from a token. It is the only source of
// the user id attached to an interaction.
type Identity struct {
	UserID    string
	Anonymous bool
}

// IdentityResolver maps a bearer or session token to an Identity. It
// returns a CodeServerAuthUnauthorized error for unknown tokens and
// CodeServerAuthForbidden for tokens that are known but not allowed.
type IdentityResolver interface {
	ResolveToken(ctx context.Context, token string) (Identity, error)
}

// TokenResolver resolves tokens from a fixed token-to-user table.
type TokenResolver struct {
	tokens map[string]string
}

// NewTokenResolver copies tokens (token to user id) into a resolver.
func NewTokenResolver(tokens map[string]string) *TokenResolver {
	m := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		m[tok] = user
	}
	return &TokenResolver{tokens: m}
}

func (r *TokenResolver) ResolveToken(_ context.Context, token string) (Identity, error) {
	// Compare against every entry so lookup time does not depend on which
	// token matched.
	var userID string
	for tok, user := range r.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			userID = user
		}
	}
	if userID == "" {
		return Identity{}, sgerr.New(sgerr.CodeServerAuthUnauthorized, "invalid token")
	}
	return Identity{UserID: userID}, nil
}

type identityKey struct{}

// IdentityFromContext returns the identity attached by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

var publicPaths = map[string]bool{
	"/health":       true,
	"/openapi.json": true,
	"/openapi.yaml": true,
	"/docs":         true,
}

// tokenFromRequest reads "Authorization: Bearer <token>", falling back to
// the session cookie. The Bearer prefix is case-sensitive.
func tokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(tok)
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// NewAuthMiddleware resolves the caller on every non-public request. With a
// nil resolver every request runs as an anonymous identity.
func NewAuthMiddleware(resolver IdentityResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if resolver == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{Anonymous: true})))
				return
			}

			token := tokenFromRequest(r, cookieName)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authorization required: bearer token or session cookie")
				return
			}

			id, err := resolver.ResolveToken(r.Context(), token)
			if err != nil {
				status := sgerr.HTTPStatus(err)
				if status != http.StatusForbidden {
					status = http.StatusUnauthorized
				}
				writeError(w, status, http.StatusText(status))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
