package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/throttle/pkg/proxy"
	"mercator-hq/throttle/pkg/proxy/types"
)

// RecoveryMiddleware turns a handler panic into a JSON 500 and logs the
// stack. Clients never see panic values.
//
// A panic after the response has started, typically while the forwarder is
// copying an upstream body, cannot be answered with a 500 any more. The
// connection is aborted instead so the client sees a truncated response
// rather than a corrupted one. http.ErrAbortHandler passes through as is.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &startTracker{ResponseWriter: w}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", v,
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"response_started", tw.started,
				"stack", string(debug.Stack()),
			)
			if tw.started {
				panic(http.ErrAbortHandler)
			}

			_ = proxy.WriteErrorResponse(w, types.NewServerError(
				"An internal error occurred. Please try again later.",
			))
		}()

		next.ServeHTTP(tw, r)
	})
}

// startTracker records whether the status line has been sent.
type startTracker struct {
	http.ResponseWriter
	started bool
}

func (t *startTracker) WriteHeader(code int) {
	t.started = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *startTracker) Write(b []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(b)
}

func (t *startTracker) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.started = true
		f.Flush()
	}
}

func (t *startTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
