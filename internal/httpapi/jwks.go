package httpapi

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery.
// Resource services poll this endpoint to verify tokens locally.
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, keys.PublicJWKS())
	}
}
