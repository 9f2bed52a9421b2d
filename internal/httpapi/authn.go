package httpapi

import (
	"net/http"

	"socportal.org/internal/auth"
)

// WithIdentity resolves the request's credentials into an identity and
// attaches it to the context, together with the provider-asserted role set
// when the bearer scheme authenticated the call. Resolution failures
// terminate the request with 401.
func (a *API) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := a.resolver.Resolve(r.Context(), r)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), res.User)
		ctx = auth.ContextWithExternalRoles(ctx, res.ExternalRoles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles gates a route on the allowed role set. Must run inside
// WithIdentity.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "not authenticated")
				return
			}
			if err := auth.Require(user, roles, auth.ExternalRolesFromContext(r.Context())); err != nil {
				writeDomainError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
