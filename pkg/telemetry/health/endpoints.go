package health

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
)

// VersionInfo is the body of the version endpoint.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Paths are the probe routes mounted by Mount. Empty paths are skipped.
type Paths struct {
	Liveness  string
	Readiness string
	Version   string
}

// Mount registers the probe handlers on r for GET and HEAD. Other methods
// fall through to r's MethodNotAllowed handler.
func (c *Checker) Mount(r chi.Router, paths Paths, version VersionInfo) {
	handlers := map[string]http.HandlerFunc{
		paths.Liveness:  c.LivenessHandler(),
		paths.Readiness: c.ReadinessHandler(),
		paths.Version:   VersionHandler(version),
	}
	for path, h := range handlers {
		if path == "" {
			continue
		}
		r.Method(http.MethodGet, path, h)
		r.Method(http.MethodHead, path, h)
	}
}

// LivenessHandler answers 200 while the process is running. It never
// consults the store.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler runs every registered check. Only a failed critical
// check turns the answer into 503; a store outage reports "degraded" with
// 200 because the limiter keeps admitting traffic.
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "store": {"status": "unhealthy", "critical": false, "message": "dial tcp: connection refused", "duration_ms": 50.2}
//	    },
//	    "timestamp": "2026-03-01T12:00:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, r, code, status)
	}
}

// VersionHandler reports build information. GoVersion is filled in from
// the running binary.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	info.GoVersion = runtime.Version()
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusOK, info)
	}
}

// writeStatus writes body as JSON. Probe answers must not be cached by
// intermediaries, and HEAD gets headers only.
func writeStatus(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(body)
	}
}
