package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/app"
	"github.com/aussiebroadwan/authcore/internal/httpapi"
	"github.com/aussiebroadwan/authcore/internal/service"
	"github.com/aussiebroadwan/authcore/pkg/authclient"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/policy"
)

/*
 * End-to-end tests for the token service: the real key material, registry,
 * router, and client talking over HTTP. No mocks; only the listener is a
 * test server instead of a real port.
 */

const clientsYAML = `
clients:
  - id: svc-people
    secret: people-secret
    scopes: [people:read, people:write]
    grant_types: [client_credentials]
  - id: svc-admin
    secret: admin-secret
    scopes: [admin]
    grant_types: [client_credentials]
`

func startServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	clientsPath := filepath.Join(dir, "clients.yaml")
	require.NoError(t, os.WriteFile(clientsPath, []byte(clientsYAML), 0o600))

	cfg := app.Config{
		Issuer:         "jwt",
		Audience:       "jwt",
		PrivateKeyPath: filepath.Join(dir, "authPrivateKey.pem"),
		PublicKeyPath:  filepath.Join(dir, "authPublicKey.pem"),
		RSABits:        2048,
		AccessTTL:      time.Hour,
		ClientsFile:    clientsPath,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := app.InitKeys(context.Background(), cfg, logger)
	require.NoError(t, err)

	registry, err := service.LoadRegistry(cfg.ClientsFile)
	require.NoError(t, err)

	router := httpapi.NewRouter(keys.Keys, "e2e", logger)
	router.TokenService = &service.TokenService{
		Signer:    keys.Signer,
		Clients:   registry,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		AccessTTL: cfg.AccessTTL,
	}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCredentialsFlow(t *testing.T) {
	srv := startServer(t)
	c := authclient.NewClient(srv.URL)
	ctx := context.Background()

	resp, err := c.ClientCredentialsGrant(ctx, "svc-people", "people-secret",
		[]string{"people:read"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, 3600, resp.ExpiresIn)

	// Verify the token the way a resource service would: against the
	// published JWKS, fetched over HTTP.
	verifier := c.NewVerifier(jwtx.VerifyOptions{Issuer: "jwt", Audience: []string{"jwt"}})
	claims, err := verifier.Verify(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "svc-people", claims.Subject)
	require.Equal(t, []string{"people:read"}, claims.Scopes)

	// And authorize an operation with them.
	p := policy.FromClaims(claims)
	require.True(t, p.Allows(policy.Any("people:read")))
	require.False(t, p.Allows(policy.Any("people:delete")))
}

func TestAdminScopeOverridesPolicy(t *testing.T) {
	srv := startServer(t)
	c := authclient.NewClient(srv.URL)
	ctx := context.Background()

	resp, err := c.ClientCredentialsGrant(ctx, "svc-admin", "admin-secret", nil)
	require.NoError(t, err)

	verifier := c.NewVerifier(jwtx.VerifyOptions{Issuer: "jwt", Audience: []string{"jwt"}})
	claims, err := verifier.Verify(ctx, resp.AccessToken)
	require.NoError(t, err)

	p := policy.FromClaims(claims)
	require.True(t, p.Allows(policy.Any("people:delete")))
	require.True(t, p.Allows(policy.Any("todo:write")))
}

func TestGuardedResourceServerFlow(t *testing.T) {
	srv := startServer(t)
	c := authclient.NewClient(srv.URL)
	ctx := context.Background()

	// A downstream resource service: verifies bearer tokens against the
	// published JWKS and mounts its routes from one policy table.
	verifier := c.NewVerifier(jwtx.VerifyOptions{Issuer: "jwt", Audience: []string{"jwt"}})
	table := policy.Table{}.
		Guard("GET /api/people", policy.Any("people:read")).
		Guard("DELETE /api/people/{id}", policy.Any("people:delete"))

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux := http.NewServeMux()
	httpx.MountGuarded(mux, table, httpx.ModerateLimit, map[string]http.Handler{
		"GET /api/people":         ok,
		"DELETE /api/people/{id}": ok,
	})
	resource := httptest.NewServer(httpx.Chain(mux, httpx.AuthnMiddleware(verifier)))
	t.Cleanup(resource.Close)

	resp, err := c.ClientCredentialsGrant(ctx, "svc-people", "people-secret",
		[]string{"people:read"})
	require.NoError(t, err)

	call := func(method, path, token string) int {
		req, err := http.NewRequestWithContext(ctx, method, resource.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res, err := resource.Client().Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}

	require.Equal(t, http.StatusNoContent, call(http.MethodGet, "/api/people", resp.AccessToken))
	require.Equal(t, http.StatusForbidden, call(http.MethodDelete, "/api/people/1", resp.AccessToken))
	require.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/api/people", ""))

	admin, err := c.ClientCredentialsGrant(ctx, "svc-admin", "admin-secret", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, call(http.MethodDelete, "/api/people/1", admin.AccessToken))
}

func TestBadCredentialsRejectedOverHTTP(t *testing.T) {
	srv := startServer(t)
	c := authclient.NewClient(srv.URL)

	_, err := c.ClientCredentialsGrant(context.Background(), "svc-people", "wrong", nil)
	var oerr *authclient.OAuth2Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, authclient.ErrorCodeInvalidClient, oerr.Code)
}

func TestTokenRejectedByForeignServer(t *testing.T) {
	// Two servers with independent key material. A token minted by one must
	// not verify against the other's JWKS.
	srvA := startServer(t)
	srvB := startServer(t)
	ctx := context.Background()

	resp, err := authclient.NewClient(srvA.URL).ClientCredentialsGrant(ctx,
		"svc-people", "people-secret", nil)
	require.NoError(t, err)

	verifier := authclient.NewClient(srvB.URL).NewVerifier(jwtx.VerifyOptions{Issuer: "jwt"})
	_, err = verifier.Verify(ctx, resp.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)
}

func TestKeyMaterialStableAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := app.Config{
		Issuer:         "jwt",
		Audience:       "jwt",
		PrivateKeyPath: filepath.Join(dir, "authPrivateKey.pem"),
		PublicKeyPath:  filepath.Join(dir, "authPublicKey.pem"),
		RSABits:        2048,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := app.InitKeys(context.Background(), cfg, logger)
	require.NoError(t, err)

	second, err := app.InitKeys(context.Background(), cfg, logger)
	require.NoError(t, err)

	// Same PEM files, same kid: tokens survive a restart.
	require.Equal(t, first.Pair.KID(), second.Pair.KID())
}
