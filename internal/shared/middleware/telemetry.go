package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Telemetry wraps an http.Handler with otelhttp server instrumentation.
// Health checks are not traced.
func Telemetry(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "bankline-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)
}
