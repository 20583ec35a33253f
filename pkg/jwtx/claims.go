package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/authcore/pkg/idx"
)

// DefaultAccessTokenTTL is the default lifetime for access tokens.
const DefaultAccessTokenTTL = time.Hour

// Claims are the access-token claims shared between the authorization server
// and resource services. We keep changes additive to preserve compatibility.
type Claims struct {
	jwt.RegisteredClaims

	// Name is the display name of the principal. Mirrors the subject.
	Name string `json:"name,omitempty"`

	// Scopes granted at issuance, e.g. "people:read people:create".
	// Serialized as a JSON array under the "scope" claim.
	Scopes []string `json:"scope,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for an access token.
// iat and nbf are both set to now; exp is now plus ttl; jti is a fresh ULID.
func NewAccessClaims(
	subject string,
	scopes []string,
	ttl time.Duration,
	issuer, audience string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        idx.New().String(),
		},
		Name:   subject,
		Scopes: scopes,
	}
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry ensures the token isn't expired (exp) and isn't used before
// it becomes valid (nbf). Leeway allows a small grace for clock skew; zero
// means exact.
func (c *Claims) ValidateExpiry(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
