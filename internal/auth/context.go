package auth

import "context"

// Identity is the verified operator behind a request.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

const ginIdentityKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom reports false when the request was not authenticated.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// Actor returns the caller identity, or the zero value for system-initiated work
// (retry runner, sweeper). Audit records it either way.
func Actor(ctx context.Context) Identity {
	id, _ := IdentityFrom(ctx)
	return id
}
