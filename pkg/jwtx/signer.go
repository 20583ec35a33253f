package jwtx

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

// AlgorithmRS256 is the only signing algorithm this server issues. Verifiers
// pin it independently of anything a token asserts.
const AlgorithmRS256 = "RS256"

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

// RS256Signer implements the Signer interface using RSA SHA-256.
type RS256Signer struct {
	kid string
	key *rsa.PrivateKey
	pub *rsa.PublicKey
}

// NewSignerRS256 creates an RS256 signer from an already-parsed private key.
func NewSignerRS256(kid string, key *rsa.PrivateKey) (*RS256Signer, error) {
	if key == nil {
		return nil, errors.New("jwtx: nil RSA key")
	}
	if kid == "" {
		return nil, errors.New("jwtx: empty kid")
	}
	return &RS256Signer{kid: kid, key: key, pub: &key.PublicKey}, nil
}

// NewSignerRS256FromPEM creates an RS256 signer from PEM bytes.
// Accepts both PKCS1 and PKCS8 encodings.
func NewSignerRS256FromPEM(kid string, pemKey []byte) (*RS256Signer, error) {
	key, err := cryptox.ParseRSAPrivateKeyPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: %w", err)
	}
	return NewSignerRS256(kid, key)
}

func (s *RS256Signer) Alg() string { return AlgorithmRS256 }
func (s *RS256Signer) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string. The kid
// header must match the ID advertised in the JWKS so verifiers can select
// the right key.
func (s *RS256Signer) Sign(claims Claims) (string, error) {
	if s.key == nil {
		return "", ErrSigning
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.kid

	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSigning, err)
	}
	return signed, nil
}

// PublicJWK returns a JWK for inclusion in a JWKS. This is what gets
// published so others can verify our tokens.
func (s *RS256Signer) PublicJWK() JWK {
	return NewRSAJWK(s.kid, "sig", AlgorithmRS256, s.pub)
}
