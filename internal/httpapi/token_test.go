package httpapi_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/httpapi"
	"github.com/aussiebroadwan/authcore/internal/service"
	"github.com/aussiebroadwan/authcore/pkg/authclient"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

func newTestRouter(t *testing.T) *httpapi.Router {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := jwtx.NewSignerRS256("test-key", priv)
	require.NoError(t, err)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	reg, err := service.NewRegistry([]service.ClientConfig{
		{
			ID:         "svc-people",
			Secret:     "people-secret",
			Scopes:     []string{"people:read", "people:write"},
			GrantTypes: []string{"client_credentials"},
		},
		{
			ID:         "web",
			Secret:     "web-secret",
			Scopes:     []string{"todo:read"},
			GrantTypes: []string{"password"},
		},
		{
			ID:         "alice",
			Secret:     "hunter2",
			Scopes:     []string{"todo:read", "todo:write"},
			GrantTypes: []string{"password"},
		},
	})
	require.NoError(t, err)

	r := httpapi.NewRouter(keys, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.TokenService = &service.TokenService{
		Signer:    signer,
		Clients:   reg,
		Issuer:    "jwt",
		Audience:  "jwt",
		AccessTTL: time.Hour,
	}
	r.ApplyRoutes()
	return r
}

func postToken(t *testing.T, router http.Handler, form url.Values, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) authclient.TokenResponse {
	t.Helper()
	var resp authclient.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) authclient.ErrorResponse {
	t.Helper()
	var resp authclient.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestTokenEndpointClientCredentials(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc-people"},
		"client_secret": {"people-secret"},
		"scope":         {"people:read"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	resp := decodeToken(t, rec)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, 3600, resp.ExpiresIn)
	require.Equal(t, "people:read", resp.Scope)

	// The issued token must verify against the published JWKS.
	jwksRec := httptest.NewRecorder()
	router.ServeHTTP(jwksRec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, jwksRec.Code)

	var jwks jwtx.JWKS
	require.NoError(t, json.Unmarshal(jwksRec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "test-key", jwks.Keys[0].Kid)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.ResetFromJWKS(jwks))
	verifier := jwtx.NewVerifierRS256(keys, jwtx.VerifyOptions{Issuer: "jwt", Audience: []string{"jwt"}})

	claims, err := verifier.Verify(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "svc-people", claims.Subject)
	require.Equal(t, []string{"people:read"}, claims.Scopes)
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type": {"client_credentials"},
	}, func(r *http.Request) {
		r.SetBasicAuth("svc-people", "people-secret")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "people:read people:write", decodeToken(t, rec).Scope)
}

func TestTokenEndpointBadSecret(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc-people"},
		"client_secret": {"wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_client", decodeError(t, rec).Error)
}

func TestTokenEndpointUnsupportedGrant(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"svc-people"},
		"client_secret": {"people-secret"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "unsupported_grant_type", decodeError(t, rec).Error)
}

func TestTokenEndpointUnregisteredGrant(t *testing.T) {
	router := newTestRouter(t)

	// "web" is registered for password only.
	rec := postToken(t, router, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"web"},
		"client_secret": {"web-secret"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "unauthorized_client", decodeError(t, rec).Error)
}

func TestTokenEndpointDisjointScope(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc-people"},
		"client_secret": {"people-secret"},
		"scope":         {"admin"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_scope", decodeError(t, rec).Error)
}

func TestTokenEndpointMissingParameters(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type": {"client_credentials"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeError(t, rec).Error)
}

func TestTokenEndpointWrongContentType(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/oauth/token",
		strings.NewReader(`{"grant_type":"client_credentials"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeError(t, rec).Error)
}

func TestTokenEndpointPasswordGrant(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type":    {"password"},
		"client_id":     {"web"},
		"client_secret": {"web-secret"},
		"username":      {"alice"},
		"password":      {"hunter2"},
		"scope":         {"todo:read"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "todo:read", decodeToken(t, rec).Scope)
}

func TestTokenEndpointPasswordGrantBadUser(t *testing.T) {
	router := newTestRouter(t)

	rec := postToken(t, router, url.Values{
		"grant_type":    {"password"},
		"client_id":     {"web"},
		"client_secret": {"web-secret"},
		"username":      {"alice"},
		"password":      {"wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_grant", decodeError(t, rec).Error)
}

func TestHealthProbes(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var live authclient.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var ready authclient.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	require.Equal(t, "ok", ready.Checks.Signer)
}

func TestReadyzDegradedWithoutKeys(t *testing.T) {
	r := httpapi.NewRouter(jwtx.NewKeySet(), "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.TokenService = &service.TokenService{}
	r.ApplyRoutes()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready authclient.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	require.Equal(t, "degraded", ready.Status)
}
