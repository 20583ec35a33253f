package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/keyring"
)

// KeyMaterial bundles everything derived from the signing key pair: the
// signer for issuance, the public key set for discovery, and the verifier
// resource handlers use.
type KeyMaterial struct {
	Pair     *keyring.KeyPair
	Signer   *jwtx.RS256Signer
	Keys     *jwtx.KeySet
	Verifier jwtx.Verifier
}

// InitKeys loads the persisted RSA key pair, generating one on first run,
// and builds the signing and verification material from it. The key ID is
// derived from the public key, so it stays stable across restarts and every
// replica sharing the key files publishes the same JWKS.
func InitKeys(ctx context.Context, cfg Config, logger *slog.Logger) (*KeyMaterial, error) {
	pair, err := keyring.LoadOrGenerate(ctx, cfg.PrivateKeyPath, cfg.PublicKeyPath, cfg.RSABits)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}

	signer, err := jwtx.NewSignerRS256(pair.KID(), pair.Private())
	if err != nil {
		return nil, fmt.Errorf("failed to build signer: %w", err)
	}

	keys := jwtx.NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("failed to build key set: %w", err)
	}

	verifier := jwtx.NewVerifierRS256(keys, jwtx.VerifyOptions{
		Issuer:   cfg.Issuer,
		Audience: []string{cfg.Audience},
		Leeway:   cfg.Leeway,
	})

	logger.Info("signing keys loaded",
		"kid", pair.KID(),
		"private_key_path", cfg.PrivateKeyPath,
		"public_key_path", cfg.PublicKeyPath,
	)

	return &KeyMaterial{
		Pair:     pair,
		Signer:   signer,
		Keys:     keys,
		Verifier: verifier,
	}, nil
}
