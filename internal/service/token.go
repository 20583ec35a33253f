package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

var (
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidScope       = errors.New("invalid_scope")
	ErrUnauthorizedGrant  = errors.New("unauthorized_grant")
)

// TokenResult is what a successful grant produces.
type TokenResult struct {
	AccessToken string
	ExpiresIn   time.Duration
	Scope       string
}

// TokenService issues signed access tokens for the supported OAuth2 grants.
type TokenService struct {
	Signer    jwtx.Signer
	Clients   *ClientRegistry
	Issuer    string
	Audience  string
	AccessTTL time.Duration
}

// ClientCredentials implements the OAuth2 client_credentials grant.
//
// The client authenticates as itself; the client id becomes the token
// subject. No refresh token is issued since the client can always
// re-authenticate. Scopes are limited to the client's registered scopes.
func (s *TokenService) ClientCredentials(
	ctx context.Context,
	clientID, clientSecret string,
	requestedScopes []string,
) (*TokenResult, error) {
	l := slogx.FromContext(ctx)

	c, err := s.Clients.Authenticate(clientID, clientSecret)
	if err != nil {
		l.Info("client authentication failed", "client_id", clientID)
		return nil, ErrInvalidClient
	}

	if !c.AllowsGrant(GrantClientCredentials) {
		l.Warn("client not registered for client_credentials", "client_id", clientID)
		return nil, ErrUnauthorizedGrant
	}

	effective, err := effectiveScopes(requestedScopes, c.Scopes)
	if err != nil {
		return nil, err
	}

	return s.signAccess(ctx, c.ID, effective)
}

// Password implements the OAuth2 resource owner password grant.
//
// The client authenticates itself alongside the user's credentials. Registry
// entries double as user accounts, so the username is looked up the same way
// a client is; the username becomes the token subject and the user's
// registered scopes cap the grant.
func (s *TokenService) Password(
	ctx context.Context,
	clientID, clientSecret, username, password string,
	requestedScopes []string,
) (*TokenResult, error) {
	l := slogx.FromContext(ctx)

	c, err := s.Clients.Authenticate(clientID, clientSecret)
	if err != nil {
		l.Info("client authentication failed", "client_id", clientID)
		return nil, ErrInvalidClient
	}

	if !c.AllowsGrant(GrantPassword) {
		l.Warn("client not registered for password grant", "client_id", clientID)
		return nil, ErrUnauthorizedGrant
	}

	user, err := s.Clients.Authenticate(username, password)
	if err != nil {
		l.Info("resource owner authentication failed", "username", username)
		return nil, ErrInvalidCredentials
	}

	effective, err := effectiveScopes(requestedScopes, user.Scopes)
	if err != nil {
		return nil, err
	}

	return s.signAccess(ctx, user.ID, effective)
}

func (s *TokenService) signAccess(ctx context.Context, subject string, scopes []string) (*TokenResult, error) {
	now := time.Now().UTC()

	claims := jwtx.NewAccessClaims(
		subject,     // subject, mirrored into the name claim
		scopes,      // granted scopes
		s.AccessTTL, // token lifetime
		s.Issuer,    // issuer
		s.Audience,  // audience
		now,         // current time
	)

	accessToken, err := s.Signer.Sign(claims)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to sign access token", "error", err)
		return nil, err
	}

	return &TokenResult{
		AccessToken: accessToken,
		ExpiresIn:   s.AccessTTL,
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// effectiveScopes narrows the requested scopes to the registered ones.
// An empty request grants everything the client is registered for; a request
// with no overlap is an error rather than an empty token.
func effectiveScopes(requested, registered []string) ([]string, error) {
	if len(requested) == 0 {
		return dedupe(registered), nil
	}
	effective := intersectScopes(requested, registered)
	if len(effective) == 0 {
		return nil, ErrInvalidScope
	}
	return effective, nil
}

func intersectScopes(a, b []string) []string {
	set := map[string]struct{}{}
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
