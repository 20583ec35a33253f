// Package keyring manages the server's RSA signing key material on disk.
//
// Keys are stored as PEM files (PKCS#8 private, PKIX public). LoadOrGenerate
// reuses an existing pair when both files parse, and generates and persists a
// fresh pair under a file lock when the private key file is absent, so
// concurrent first runs converge on a single key. A present private key is
// never discarded.
package keyring

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

var (
	// ErrKeyLoad indicates key files exist but could not be read or parsed.
	ErrKeyLoad = errors.New("keyring: failed to load key material")

	// ErrKeyGeneration indicates a fresh key pair could not be created or persisted.
	ErrKeyGeneration = errors.New("keyring: failed to generate key material")
)

// lockTimeout is the maximum time to wait for the generation file lock.
const lockTimeout = 5 * time.Second

// kidLength is the number of fingerprint characters used as the key ID.
const kidLength = 16

// KeyPair is a loaded RSA signing key with its derived key ID.
type KeyPair struct {
	kid  string
	priv *rsa.PrivateKey
}

// KID returns the key identifier, derived from the public key fingerprint.
// It is stable across restarts for the same key material.
func (k *KeyPair) KID() string { return k.kid }

// Private returns the RSA private key.
func (k *KeyPair) Private() *rsa.PrivateKey { return k.priv }

// Public returns the RSA public key.
func (k *KeyPair) Public() *rsa.PublicKey { return &k.priv.PublicKey }

// DefaultPrivateKeyPath is the private key location used when none is configured.
func DefaultPrivateKeyPath() string {
	return filepath.Join(os.TempDir(), "authPrivateKey.pem")
}

// DefaultPublicKeyPath is the public key location used when none is configured.
func DefaultPublicKeyPath() string {
	return filepath.Join(os.TempDir(), "authPublicKey.pem")
}

// LoadOrGenerate returns the key pair stored at privPath/pubPath, generating
// and persisting a new pair of the given bit size when the private key file
// is missing or empty. Any other unreadable state, including a lost or
// mismatched public file, is an error rather than silently replaced.
func LoadOrGenerate(ctx context.Context, privPath, pubPath string, bits int) (*KeyPair, error) {
	if pair, ok, err := tryLoad(privPath, pubPath); err != nil {
		return nil, err
	} else if ok {
		return pair, nil
	}

	// Serialize generation across processes. A separate lock file keeps this
	// portable and avoids locking the key file itself.
	lock := flock.New(privPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring lock: %v", ErrKeyGeneration, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock at %s is held", ErrKeyGeneration, privPath+".lock")
	}
	defer lock.Unlock()

	// Another process may have generated the pair while we waited.
	if pair, ok, err := tryLoad(privPath, pubPath); err != nil {
		return nil, err
	} else if ok {
		return pair, nil
	}

	priv, err := cryptox.GenerateRSAPrivateKey(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	privPEM, err := cryptox.EncodeRSAPrivateKeyPEM(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	pubPEM, err := cryptox.EncodeRSAPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	if err := writeFileAtomic(privPath, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if err := writeFileAtomic(pubPath, pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return newKeyPair(priv)
}

// tryLoad reads the pair from disk. A missing or empty private key file
// reports (nil, false, nil) so the caller can fall through to generation.
// Once a private key exists every failure is an error: falling through would
// overwrite it, rotating the kid out from under every outstanding token.
func tryLoad(privPath, pubPath string) (*KeyPair, bool, error) {
	privPEM, ok, err := readNonEmpty(privPath)
	if err != nil || !ok {
		return nil, false, err
	}
	pubPEM, ok, err := readNonEmpty(pubPath)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: %s is missing or empty but %s exists", ErrKeyLoad, pubPath, privPath)
	}

	priv, err := cryptox.ParseRSAPrivateKeyPEM(privPEM)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrKeyLoad, privPath, err)
	}
	pub, err := cryptox.ParseRSAPublicKeyPEM(pubPEM)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrKeyLoad, pubPath, err)
	}

	// The public file must belong to the private key, otherwise published
	// JWKS material would not verify our signatures.
	if pub.N.Cmp(priv.N) != 0 || pub.E != priv.E {
		return nil, false, fmt.Errorf("%w: %s does not match %s", ErrKeyLoad, pubPath, privPath)
	}

	pair, err := newKeyPair(priv)
	if err != nil {
		return nil, false, err
	}
	return pair, true, nil
}

func readNonEmpty(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrKeyLoad, path, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

func newKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	kid := cryptox.Fingerprint(der)
	if len(kid) > kidLength {
		kid = kid[:kidLength]
	}
	return &KeyPair{kid: kid, priv: priv}, nil
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a partially written PEM.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
