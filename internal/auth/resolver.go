package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"socportal.org/internal/obs"
)

// SessionCookieName carries the locally issued session token.
const SessionCookieName = "access_token"

const (
	bearerPrefix = "bearer "

	maxUsernameBase   = 30
	maxUsernameLength = 40
	maxUsernameProbes = 20
)

var usernameCharset = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// errSchemeNotApplicable signals that a resolution strategy does not apply to
// the request and the next one should be tried. It is distinct from terminal
// failures such as ErrUnauthenticated.
var errSchemeNotApplicable = errors.New("auth: scheme not applicable")

// Resolution is a resolved identity together with the provider-asserted role
// set when the bearer scheme authenticated the request (nil otherwise).
type Resolution struct {
	User          *User
	ExternalRoles []string
}

// IdentityResolver maps request credentials to a persisted identity, trying
// the bearer scheme first and the session cookie second. The bearer scheme
// auto-provisions accounts and keeps the stored role synchronized with the
// identity provider; the cookie scheme never provisions.
//
// A failed bearer token silently falls through to the cookie scheme. This
// mirrors the behavior the portal has always had; whether it is intentional
// convenience or an accidental loosening is pending product sign-off.
type IdentityResolver struct {
	users    UserStore
	verifier *ClaimsVerifier
	codec    *LocalTokenCodec
}

// NewIdentityResolver wires the resolver over its collaborators.
func NewIdentityResolver(users UserStore, verifier *ClaimsVerifier, codec *LocalTokenCodec) *IdentityResolver {
	return &IdentityResolver{users: users, verifier: verifier, codec: codec}
}

// Resolve returns the identity for the request, with a role value current as
// of this call. At most one identity write (provision or role sync) happens
// per call.
func (r *IdentityResolver) Resolve(ctx context.Context, req *http.Request) (*Resolution, error) {
	strategies := []func(context.Context, *http.Request) (*Resolution, error){
		r.resolveBearer,
		r.resolveCookie,
	}
	for _, strategy := range strategies {
		res, err := strategy(ctx, req)
		if errors.Is(err, errSchemeNotApplicable) {
			continue
		}
		return res, err
	}
	return nil, ErrUnauthenticated
}

func (r *IdentityResolver) resolveBearer(ctx context.Context, req *http.Request) (*Resolution, error) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(strings.ToLower(header), bearerPrefix) {
		return nil, errSchemeNotApplicable
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])

	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		// Recoverable: a bad bearer token falls through to the cookie scheme.
		obs.ObserveResolution("bearer", "invalid")
		return nil, errSchemeNotApplicable
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		obs.ObserveResolution("bearer", "no_email")
		return nil, errSchemeNotApplicable
	}

	externalRoles := claims.ExternalRoles()
	effectiveRole := PickRole(externalRoles)

	user, err := r.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		user, err = r.syncRole(ctx, user, effectiveRole)
	case errors.Is(err, ErrNotFound):
		user, err = r.provision(ctx, email, effectiveRole)
	}
	if err != nil {
		obs.ObserveResolution("bearer", "error")
		return nil, err
	}
	obs.ObserveResolution("bearer", "ok")
	return &Resolution{User: user, ExternalRoles: externalRoles}, nil
}

func (r *IdentityResolver) resolveCookie(ctx context.Context, req *http.Request) (*Resolution, error) {
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrUnauthenticated
	}
	subject, err := r.codec.Verify(cookie.Value)
	if err != nil {
		obs.ObserveResolution("cookie", "invalid")
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	user, err := r.users.FindByEmail(ctx, strings.ToLower(subject))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveResolution("cookie", "unknown_subject")
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	obs.ObserveResolution("cookie", "ok")
	return &Resolution{User: user}, nil
}

// syncRole overwrites the stored role when the provider asserts a different
// one. The external scheme is authoritative for role truth.
func (r *IdentityResolver) syncRole(ctx context.Context, user *User, effectiveRole string) (*User, error) {
	if effectiveRole == "" || strings.EqualFold(user.Role, effectiveRole) {
		return user, nil
	}
	if err := r.users.UpdateRole(ctx, user.ID, effectiveRole); err != nil {
		return nil, err
	}
	user.Role = effectiveRole
	return user, nil
}

// provision creates an identity for a first-seen external account, probing
// usernames base, base1, base2, … under the store's unique constraint. A
// concurrent resolver racing on the same email wins the insert; this side
// detects the conflict, re-reads by email and proceeds instead of failing.
func (r *IdentityResolver) provision(ctx context.Context, email, role string) (*User, error) {
	base := usernameBase(email)
	for i := 0; i < maxUsernameProbes; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
			if len(candidate) > maxUsernameLength {
				candidate = candidate[:maxUsernameLength]
			}
		}
		user := &User{
			Email:    email,
			Username: candidate,
			Role:     role,
		}
		err := r.users.Create(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		// Unique violation: either the email row now exists (lost race) or
		// the candidate username is taken. A fresh email lookup tells which.
		existing, lookupErr := r.users.FindByEmail(ctx, email)
		if lookupErr == nil {
			return r.syncRole(ctx, existing, role)
		}
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, lookupErr
		}
	}
	return nil, fmt.Errorf("auth: username probes exhausted for %q", base)
}

// usernameBase derives a candidate username from the local part of the email
// claim. Display names are never used: reserved names like "admin" collide.
func usernameBase(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	base := usernameCharset.ReplaceAllString(local, "_")
	base = strings.Trim(base, "._-")
	if base == "" {
		base = "user"
	}
	if len(base) > maxUsernameBase {
		base = base[:maxUsernameBase]
	}
	return base
}
