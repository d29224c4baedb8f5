// internal/respond/respond.go
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
)

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode_response_failed", "error", err)
	}
}

// Error writes {"error": ...} with the status mapped from err. Server
// faults are logged and reported to Sentry when a hub is on the request.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := appErrors.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
		msg = "internal server error"
	}
	JSON(w, status, map[string]string{"error": msg})
}
