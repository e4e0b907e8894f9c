package restapi

import (
	"net/http"
	"strconv"
	"time"

	"bustimes.app/internal/metrics"
)

// MetricsHandler returns middleware that records request counts and
// latencies by route pattern. A nil m yields a pass-through middleware.
func MetricsHandler(m *metrics.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			// The mux sets r.Pattern; raw paths would carry stop codes into
			// the label set.
			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}

			status := strconv.Itoa(wrapped.statusCode)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
