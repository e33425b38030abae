package middleware

import (
	"net/http"
	"time"

	"mercator-hq/throttle/pkg/telemetry/metrics"
)

// MetricsMiddleware records request count and latency per endpoint class and
// status. Requests that matched no route are recorded as "unrouted".
func MetricsMiddleware(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if collector == nil || !collector.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r, state := withState(r)
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			class := state.class
			if class == "" {
				class = metrics.UnroutedClass
			}
			collector.RecordRequest(class, rw.statusCode, time.Since(start))
		})
	}
}
