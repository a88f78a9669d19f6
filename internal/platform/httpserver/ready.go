package httpserver

import (
	"context"
	"net/http"
	"time"

	"opsflow/pkg/platform/httputil"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Ready answers 200 when every check passes and 503 naming the failing
// dependencies otherwise. Each check gets the same short deadline.
func Ready(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failing := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failing[name] = err.Error()
			}
		}
		if len(failing) > 0 {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}
