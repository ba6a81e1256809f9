package http

import (
	"net/http"
	"time"

	"github.com/openkettle/authcore/internal/authcore/secrets"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/pkg/httpx"
)

// ReadyzHandler reports whether both backing stores are reachable.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	sec secrets.Store,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &healthChecks{
			Database: "ok",
			Secrets:  "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := sec.Ping(r.Context()); err != nil {
			checks.Secrets = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, healthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
