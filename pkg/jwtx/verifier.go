package jwtx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrKeyFetch    = errors.New("jwtx: key fetch failed")
	ErrSigning     = errors.New("jwtx: signing key unavailable")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// Verifier validates a JWT and gives you back the claims if it's legit.
// The context bounds any key resolution the verifier has to do, which may
// hit the network when keys come from a remote JWKS endpoint.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf.
	// Because time sync is never perfect. Defaults to zero (exact).
	Leeway time.Duration
}

// RS256Verifier validates JWTs signed using RS256. The expected algorithm is
// pinned here: whatever the untrusted token's header asserts never changes
// how verification runs.
type RS256Verifier struct {
	keys KeySource
	opts VerifyOptions
}

// NewVerifierRS256 creates a verifier resolving RSA public keys from keys.
func NewVerifierRS256(keys KeySource, opts VerifyOptions) *RS256Verifier {
	return &RS256Verifier{keys: keys, opts: opts}
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *RS256Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	// Check the asserted algorithm before anything else so a token claiming
	// HS256 (or "none") is rejected outright rather than negotiated.
	alg, kid, err := peekHeader(tokenStr)
	if err != nil {
		return nil, err
	}
	if alg != AlgorithmRS256 {
		return nil, fmt.Errorf("%w: token asserts %q", ErrAlgMismatch, alg)
	}
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKID)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgorithmRS256}),
		jwt.WithLeeway(v.opts.Leeway),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaim
	}

	// Now check the claim requirements
	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return nil, err
	}
	if err := claims.ValidateExpiry(v.opts.Leeway); err != nil {
		return nil, err
	}

	return claims, nil
}

// peekHeader decodes the JOSE header without trusting any of it, returning
// the asserted algorithm and key ID.
func peekHeader(tokenStr string) (alg, kid string, err error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("%w: bad header encoding", ErrMalformed)
	}

	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", "", fmt.Errorf("%w: bad header json", ErrMalformed)
	}

	return header.Alg, header.Kid, nil
}

// mapParseError translates golang-jwt parse failures into our sentinel
// errors. Key-source errors pass through untouched so callers can tell a
// fetch failure from a bad token.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrKeyFetch),
		errors.Is(err, ErrUnknownKID),
		errors.Is(err, ErrAlgMismatch):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %s", ErrInvalidSig, err)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidClaim, err)
	}
}
