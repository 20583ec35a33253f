package httpapi

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/authclient"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// LivezHandler is the liveness probe. It always returns 200 while the
// process is running.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authclient.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}
