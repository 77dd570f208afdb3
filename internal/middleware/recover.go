package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"school-service/common/httputil"
)

// Recover turns a handler panic into a JSON 500. The stack is only logged.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "panic while handling request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				httputil.RespondWithError(w, http.StatusInternalServerError, "Server error processing request")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
