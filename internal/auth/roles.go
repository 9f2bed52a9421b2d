package auth

import (
	"fmt"
	"sort"
	"strings"
)

// roleRank orders roles strongest-first. PickRole walks it so that the
// strongest externally asserted role wins.
var roleRank = []string{RoleAdmin, RoleManager, RoleAnalyst, RoleClient}

// rolePrefixes are provider-specific tags stripped during normalization,
// e.g. ROLE_ADMIN and soc_analyst both normalize to plain role names.
var rolePrefixes = []string{"ROLE_", "soc_"}

// NormalizeRoles lower-cases role tags and strips provider prefixes.
// Empty entries are dropped; the result is a set.
func NormalizeRoles(roles []string) map[string]struct{} {
	if len(roles) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		for _, prefix := range rolePrefixes {
			role = strings.Replace(role, prefix, "", 1)
		}
		role = strings.ToLower(role)
		if role == "" {
			continue
		}
		out[role] = struct{}{}
	}
	return out
}

// PickRole selects the strongest role from an externally asserted role set.
// Unknown roles are ignored; an empty set yields client.
func PickRole(externalRoles []string) string {
	norm := NormalizeRoles(externalRoles)
	for _, role := range roleRank {
		if _, ok := norm[role]; ok {
			return role
		}
	}
	return RoleClient
}

// Require decides whether the identity may proceed for the allowed role set.
// An admin stored role always passes. Otherwise the externally asserted
// roles are consulted first: the stored role may lag a just-revoked external
// role by one resolution cycle, so the fresher source wins when available.
// externalRoles is nil for cookie-authenticated requests.
func Require(user *User, allowedRoles []string, externalRoles []string) error {
	if user == nil {
		return ErrUnauthenticated
	}
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}

	if strings.EqualFold(user.Role, RoleAdmin) {
		return nil
	}
	for role := range NormalizeRoles(externalRoles) {
		if _, ok := allowed[role]; ok {
			return nil
		}
	}
	if _, ok := allowed[strings.ToLower(user.Role)]; ok {
		return nil
	}

	names := make([]string, 0, len(allowed))
	for role := range allowed {
		names = append(names, role)
	}
	sort.Strings(names)
	return fmt.Errorf("%w: allowed roles: %s", ErrForbidden, strings.Join(names, ", "))
}
