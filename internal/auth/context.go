package auth

import "context"

type identityContextKey struct{}
type externalRolesContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the context.
func ContextWithIdentity(ctx context.Context, user *User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, user)
}

// IdentityFromContext extracts the resolved identity from the context.
func IdentityFromContext(ctx context.Context) (*User, bool) {
	if ctx == nil {
		return nil, false
	}
	u, ok := ctx.Value(identityContextKey{}).(*User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}

// ContextWithExternalRoles records the provider-asserted role set for
// requests authenticated via the bearer scheme. The policy gate prefers this
// set over the stored role because it is fresher.
func ContextWithExternalRoles(ctx context.Context, roles []string) context.Context {
	if len(roles) == 0 {
		return ctx
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return context.WithValue(ctx, externalRolesContextKey{}, out)
}

// ExternalRolesFromContext returns the provider-asserted roles, or nil when
// the request authenticated via the cookie scheme.
func ExternalRolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	roles, ok := ctx.Value(externalRolesContextKey{}).([]string)
	if !ok || len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}
