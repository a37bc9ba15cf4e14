package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"presence/src/metrics"
)

// APILatencyMiddleware records request duration in the HTTP latency
// histogram, keyed by the matched chi route pattern rather than the raw
// path so cardinality stays bounded.
func APILatencyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			metrics.HTTPRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
