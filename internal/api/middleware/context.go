package middleware

import (
	"context"
	"net/http"
	"slices"
)

type principalKey struct{}

// principal is the API key a request authenticated with.
type principal struct {
	keyPrefix string
	scopes    []string
}

func (p principal) has(scope string) bool {
	return slices.Contains(p.scopes, scope)
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(r *http.Request) (principal, bool) {
	p, ok := r.Context().Value(principalKey{}).(principal)
	return p, ok
}

// KeyPrefix returns the prefix of the API key that authenticated r.
func KeyPrefix(r *http.Request) (string, bool) {
	p, ok := principalFrom(r)
	return p.keyPrefix, ok
}

// WithKeyPrefix marks ctx as authenticated by the key with prefix and scopes.
// For tests.
func WithKeyPrefix(ctx context.Context, prefix string, scopes ...string) context.Context {
	return withPrincipal(ctx, principal{keyPrefix: prefix, scopes: scopes})
}
