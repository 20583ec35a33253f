package httpapi

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/authclient"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// ReadyzHandler is the readiness probe. The service can issue and verify
// tokens only once signing keys are loaded, so an empty key set reports 503.
func ReadyzHandler(startTime time.Time, version string, keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authclient.HealthChecks{Signer: "ok"}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if !keys.IsReady() {
			checks.Signer = "error: no keys loaded"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, authclient.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
