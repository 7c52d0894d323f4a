// Package auth resolves bearer tokens to user identities. The core only
// ever sees an opaque uid; token verification lives behind the Resolver
// interface so a real identity provider can be dropped in without
// touching handlers or services.
package auth

import (
	"context"
	"strings"

	"github.com/rezkam/flow7/internal/domain"
)

// Resolver turns a bearer token into a uid.
type Resolver interface {
	ResolveUID(ctx context.Context, token string) (string, error)
}

// StaticResolver treats the token itself as the uid. It backs local
// development and tests; production deployments configure a verifying
// resolver instead.
type StaticResolver struct{}

// ResolveUID returns the token as the uid. Empty or whitespace tokens
// are rejected.
func (StaticResolver) ResolveUID(_ context.Context, token string) (string, error) {
	uid := strings.TrimSpace(token)
	if uid == "" {
		return "", domain.ErrUnauthenticated
	}
	return uid, nil
}
