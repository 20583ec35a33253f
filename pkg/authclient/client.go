// Package authclient is a small client for the authcore token service. It
// covers the machine-to-machine surface: requesting tokens, fetching the JWKS
// document, and building a verifier that resolves keys remotely.
package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// Client talks to an authcore server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ClientCredentialsGrant requests an access token using the OAuth2
// client_credentials grant. This is for machine-to-machine authentication
// where a client authenticates as itself, not on behalf of a user.
func (c *Client) ClientCredentialsGrant(
	ctx context.Context,
	clientID, clientSecret string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, data)
}

// PasswordGrant requests an access token using the resource owner password
// grant. The client authenticates itself alongside the user's credentials.
func (c *Client) PasswordGrant(
	ctx context.Context,
	clientID, clientSecret, username, password string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"password"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"username":      {username},
		"password":      {password},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, data)
}

// GetJWKS retrieves the JSON Web Key Set for token verification.
func (c *Client) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/.well-known/jwks.json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var jwks JWKSResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &jwks, nil
}

// NewVerifier builds a verifier backed by the server's JWKS endpoint. Keys
// are fetched lazily on first use and cached by kid; unknown kids trigger a
// rate-limited refresh.
func (c *Client) NewVerifier(opts jwtx.VerifyOptions) jwtx.Verifier {
	remote := jwtx.NewRemoteKeySet(c.BaseURL+"/.well-known/jwks.json", jwtx.RemoteKeySetOptions{
		HTTPClient: c.HTTPClient,
	})
	return jwtx.NewVerifierRS256(remote, opts)
}

func (c *Client) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.BaseURL+"/oauth/token",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &tokenResp, nil
}
