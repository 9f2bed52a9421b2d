package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExternalClaims is the verified payload of an identity-provider bearer
// token: standard registered claims plus the realm role list and email.
type ExternalClaims struct {
	Email       string `json:"email"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	jwt.RegisteredClaims
}

// ExternalRoles returns the provider-asserted realm roles, unnormalized.
func (c *ExternalClaims) ExternalRoles() []string {
	return c.RealmAccess.Roles
}

// ClaimsVerifier validates externally issued RS256 bearer tokens against the
// provider's published key set and configured issuer. Audience verification
// is an explicit relaxation: it runs only when an audience is configured.
type ClaimsVerifier struct {
	keys     KeySource
	issuer   string
	audience string
	now      func() time.Time
}

// NewClaimsVerifier constructs a verifier. issuer is the identity-provider
// realm URL; audience may be empty to skip audience verification.
func NewClaimsVerifier(keys KeySource, issuer, audience string) *ClaimsVerifier {
	return &ClaimsVerifier{
		keys:     keys,
		issuer:   issuer,
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}
}

// Verify parses and validates the bearer token. Malformed tokens, signature
// mismatches, expiry and issuer mismatches all collapse to ErrInvalidToken
// with a diagnostic message.
func (v *ClaimsVerifier) Verify(ctx context.Context, token string) (*ExternalClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &ExternalClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("kid header missing")
		}
		return v.keys.Key(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
