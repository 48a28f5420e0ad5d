package auth

import (
	"context"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

// Identity captures the authenticated principal resolved from a bearer token.
type Identity struct {
	UserID  int64
	Account string
	Role    domain.Role
}

// HasRole reports whether the identity carries the requested role.
func (i *Identity) HasRole(role domain.Role) bool {
	return i != nil && i.Role == role
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...domain.Role) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
