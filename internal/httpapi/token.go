package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/service"
	"github.com/aussiebroadwan/authcore/pkg/authclient"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// TokenHandler serves POST /oauth/token.
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
// Client credentials may arrive as form fields or via HTTP Basic auth.
type TokenHandler struct {
	TokenService *service.TokenService
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. Ensure the right content-type
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authclient.ErrInvalidContentType.WriteError(w)
		return
	}

	// 2. Parse the form body
	if err := r.ParseForm(); err != nil {
		authclient.ErrInvalidFormBody.WriteError(w)
		return
	}

	// 3. Handle the grant type
	grantType := r.Form.Get("grant_type")
	switch grantType {
	case "client_credentials":
		h.handleClientCredentialsGrant(w, r, r.Form)
	case "password":
		h.handlePasswordGrant(w, r, r.Form)
	default:
		authclient.ErrUnsupportedGrantType.WriteError(w)
	}
}

// clientAuth pulls the client credentials from the form body, falling back to
// the HTTP Basic Authorization header.
func clientAuth(r *http.Request, form url.Values) (clientID, clientSecret string) {
	clientID = strings.TrimSpace(form.Get("client_id"))
	clientSecret = form.Get("client_secret")
	if clientID != "" {
		return clientID, clientSecret
	}
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return "", ""
}

func (h *TokenHandler) handleClientCredentialsGrant(
	w http.ResponseWriter,
	r *http.Request,
	form url.Values,
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID, clientSecret := clientAuth(r, form)
	requested := httpx.ParseSpaceDelimitedFields(form.Get("scope"))

	if clientID == "" || clientSecret == "" {
		authclient.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.TokenService.ClientCredentials(ctx, clientID, clientSecret, requested)
	if err != nil {
		writeGrantError(w, log, "client_credentials", err)
		return
	}

	writeTokenResponse(w, res)
}

func (h *TokenHandler) handlePasswordGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID, clientSecret := clientAuth(r, form)
	username := strings.TrimSpace(form.Get("username"))
	password := form.Get("password")
	requested := httpx.ParseSpaceDelimitedFields(form.Get("scope"))

	if clientID == "" || clientSecret == "" || username == "" || password == "" {
		authclient.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.TokenService.Password(ctx, clientID, clientSecret, username, password, requested)
	if err != nil {
		writeGrantError(w, log, "password", err)
		return
	}

	writeTokenResponse(w, res)
}

func writeGrantError(w http.ResponseWriter, log *slog.Logger, grant string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidClient):
		authclient.ErrInvalidClient.WriteError(w)
	case errors.Is(err, service.ErrInvalidCredentials):
		authclient.ErrInvalidGrant.WriteError(w)
	case errors.Is(err, service.ErrInvalidScope):
		authclient.ErrInvalidScope.WriteError(w)
	case errors.Is(err, service.ErrUnauthorizedGrant):
		authclient.ErrUnauthorizedClient.WriteError(w)
	default:
		log.Error(grant+" grant failed", "err", err)
		authclient.ErrServerError.WriteError(w)
	}
}

func writeTokenResponse(w http.ResponseWriter, res *service.TokenResult) {
	httpx.WriteJSON(w, http.StatusOK, authclient.TokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(res.ExpiresIn.Seconds()),
		Scope:       strings.TrimSpace(res.Scope),
	})
}
