package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"truckcount-api/internal/logger"
	"truckcount-api/pkg/apierror"
)

// Recovery is a middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					"component", "http",
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
					"panic", fmt.Sprint(err),
					"stack", string(debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write(apierror.InternalError("internal server error").ToJSON())
			}
		}()

		next.ServeHTTP(w, r)
	})
}
