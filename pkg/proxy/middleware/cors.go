package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"mercator-hq/throttle/pkg/config"
)

// CORSMiddleware adds Cross-Origin Resource Sharing (CORS) headers to responses.
// It handles preflight OPTIONS requests and adds appropriate CORS headers for
// all requests.
//
// The rate limit headers and Retry-After are always exposed so browser
// clients can read them, in addition to cfg.ExposedHeaders.
//
// Example usage:
//
//	handler = CORSMiddleware(&cfg.Proxy.CORS)(handler)
func CORSMiddleware(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	exposed := exposedHeaders(cfg.ExposedHeaders)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			h := w.Header()

			if origin != "" && isOriginAllowed(origin, cfg.AllowedOrigins) {
				if slices.Contains(cfg.AllowedOrigins, "*") && !cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}

				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}

				h.Set("Access-Control-Expose-Headers", exposed)
			}

			// Preflight
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if len(cfg.AllowedMethods) > 0 {
					h.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				}
				if len(cfg.AllowedHeaders) > 0 {
					h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}

				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// exposedHeaders merges the configured headers with the rate limit headers.
func exposedHeaders(configured []string) string {
	out := make([]string, 0, len(configured)+len(RateLimitHeaders))
	seen := make(map[string]bool)
	for _, h := range append(slices.Clone(configured), RateLimitHeaders...) {
		key := http.CanonicalHeaderKey(h)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return strings.Join(out, ", ")
}

// isOriginAllowed checks if an origin is in the allowed list.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
