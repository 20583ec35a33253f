package service

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

// GrantType is an OAuth2 grant type a client may be registered for.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantImplicit          GrantType = "implicit"
)

var knownGrantTypes = map[GrantType]struct{}{
	GrantAuthorizationCode: {},
	GrantClientCredentials: {},
	GrantPassword:          {},
	GrantRefreshToken:      {},
	GrantImplicit:          {},
}

// ErrRegistryInvalid indicates the client registry failed validation at load
// time. The server refuses to start with a broken registry.
var ErrRegistryInvalid = errors.New("service: invalid client registry")

// ClientConfig is one entry of the clients file as written by an operator.
// The secret is plaintext in the file and hashed on load; it is never kept
// in memory after that.
type ClientConfig struct {
	ID         string   `yaml:"id"`
	Secret     string   `yaml:"secret"`
	Scopes     []string `yaml:"scopes"`
	GrantTypes []string `yaml:"grant_types"`
}

type registryFile struct {
	Clients []ClientConfig `yaml:"clients"`
}

// Client is a registered OAuth2 client.
type Client struct {
	ID         string
	secretHash string
	Scopes     []string
	GrantTypes []GrantType
}

// AllowsGrant reports whether the client is registered for the grant type.
func (c *Client) AllowsGrant(g GrantType) bool {
	for _, allowed := range c.GrantTypes {
		if allowed == g {
			return true
		}
	}
	return false
}

// ClientRegistry holds the registered clients, loaded once at startup.
// Lookups after construction are read-only, so no locking is needed.
type ClientRegistry struct {
	clients map[string]*Client
}

// LoadRegistry reads and validates the clients file at path.
func LoadRegistry(path string) (*ClientRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrRegistryInvalid, path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrRegistryInvalid, path, err)
	}

	return NewRegistry(file.Clients)
}

// NewRegistry validates the client configs and hashes their secrets. Any
// invalid entry fails the whole registry so misconfiguration is caught at
// startup rather than at first use.
func NewRegistry(configs []ClientConfig) (*ClientRegistry, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no clients configured", ErrRegistryInvalid)
	}

	clients := make(map[string]*Client, len(configs))
	for i, cfg := range configs {
		if err := validateClientConfig(cfg); err != nil {
			return nil, fmt.Errorf("%w: client %d (%q): %v", ErrRegistryInvalid, i, cfg.ID, err)
		}
		if _, exists := clients[cfg.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate client id %q", ErrRegistryInvalid, cfg.ID)
		}

		hash, err := cryptox.HashSecret(cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("%w: hashing secret for %q: %v", ErrRegistryInvalid, cfg.ID, err)
		}

		grants := make([]GrantType, 0, len(cfg.GrantTypes))
		for _, g := range cfg.GrantTypes {
			grants = append(grants, GrantType(g))
		}

		clients[cfg.ID] = &Client{
			ID:         cfg.ID,
			secretHash: hash,
			Scopes:     dedupe(cfg.Scopes),
			GrantTypes: grants,
		}
	}

	return &ClientRegistry{clients: clients}, nil
}

func validateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return errors.New("id must not be blank")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return errors.New("secret must not be blank")
	}
	if len(cfg.Scopes) == 0 {
		return errors.New("at least one scope is required")
	}
	for _, s := range cfg.Scopes {
		if strings.TrimSpace(s) == "" {
			return errors.New("scopes must not be blank")
		}
	}
	if len(cfg.GrantTypes) == 0 {
		return errors.New("at least one grant type is required")
	}
	for _, g := range cfg.GrantTypes {
		if _, ok := knownGrantTypes[GrantType(g)]; !ok {
			return fmt.Errorf("unknown grant type %q", g)
		}
	}
	return nil
}

// Lookup returns the client with the given id, or nil.
func (r *ClientRegistry) Lookup(id string) *Client {
	return r.clients[id]
}

// Authenticate verifies the client id and secret. It returns ErrInvalidClient
// for both unknown ids and wrong secrets so callers cannot distinguish them.
func (r *ClientRegistry) Authenticate(id, secret string) (*Client, error) {
	c := r.clients[id]
	if c == nil {
		// Burn a verification anyway so unknown ids take as long as bad
		// secrets.
		_ = cryptox.VerifySecret(secret, decoyHash)
		return nil, ErrInvalidClient
	}
	if err := cryptox.VerifySecret(secret, c.secretHash); err != nil {
		return nil, ErrInvalidClient
	}
	return c, nil
}

// Len reports the number of registered clients.
func (r *ClientRegistry) Len() int {
	return len(r.clients)
}

// decoyHash is verified against for unknown client ids to keep authentication
// timing uniform. Generated once at startup from a random secret.
var decoyHash = func() string {
	secret, err := cryptox.GenerateToken(16)
	if err != nil {
		panic(err)
	}
	h, err := cryptox.HashSecret(secret)
	if err != nil {
		panic(err)
	}
	return h
}()
