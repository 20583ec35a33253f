package jwtx

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Remote fetch defaults. Conservative: a verification call should fail
// closed quickly rather than hang on a dead JWKS endpoint.
const (
	defaultFetchTimeout       = 5 * time.Second
	defaultMaxRetries         = 2
	defaultMinRefreshInterval = 30 * time.Second
)

// RemoteKeySetOptions configures a RemoteKeySet.
type RemoteKeySetOptions struct {
	// HTTPClient to fetch with. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// FetchTimeout bounds a single JWKS request. Defaults to 5s.
	FetchTimeout time.Duration

	// MaxRetries is how many times a failed fetch is retried with
	// exponential backoff before verification fails closed. Defaults to 2.
	MaxRetries uint64

	// MinRefreshInterval throttles refresh attempts triggered by unknown
	// kids, so a flood of garbage tokens can't hammer the endpoint.
	// Defaults to 30s.
	MinRefreshInterval time.Duration
}

// RemoteKeySet resolves verification keys from a remote JWKS endpoint,
// caching them by kid. An unknown kid triggers a refresh (the issuer may
// have rotated), rate-limited by MinRefreshInterval. Fetch failures surface
// as ErrKeyFetch so verification fails closed.
type RemoteKeySet struct {
	url    string
	client *http.Client
	opts   RemoteKeySetOptions

	cache *KeySet

	mu          sync.Mutex // serializes refreshes
	lastRefresh time.Time
}

// NewRemoteKeySet creates a RemoteKeySet for the given JWKS URL.
func NewRemoteKeySet(jwksURL string, opts RemoteKeySetOptions) *RemoteKeySet {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MinRefreshInterval <= 0 {
		opts.MinRefreshInterval = defaultMinRefreshInterval
	}

	return &RemoteKeySet{
		url:    jwksURL,
		client: opts.HTTPClient,
		opts:   opts,
		cache:  NewKeySet(),
	}
}

// Key implements KeySource. The happy path is a lock-free cache hit; a miss
// refreshes the set from the endpoint and looks again.
func (r *RemoteKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if pk, ok := r.cache.lookup(kid); ok {
		return pk, nil
	}

	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	if pk, ok := r.cache.lookup(kid); ok {
		return pk, nil
	}
	return nil, fmt.Errorf("%w: %q not in remote set", ErrUnknownKID, kid)
}

// JWKS returns the last fetched key set document.
func (r *RemoteKeySet) JWKS() JWKS {
	return r.cache.PublicJWKS()
}

func (r *RemoteKeySet) refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock, and
	// repeated unknown-kid misses must not turn into a fetch storm.
	if time.Since(r.lastRefresh) < r.opts.MinRefreshInterval && r.cache.IsReady() {
		return nil
	}

	fetch := func() error {
		return r.fetchOnce(ctx)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.opts.MaxRetries),
		ctx,
	)
	if err := backoff.Retry(fetch, bo); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrKeyFetch, r.url, err)
	}

	r.lastRefresh = time.Now()
	return nil
}

func (r *RemoteKeySet) fetchOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	return r.cache.ResetFromJWKS(jwks)
}
