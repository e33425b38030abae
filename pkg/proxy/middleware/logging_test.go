package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/throttle/pkg/limits/policy"
)

// logLines decodes every JSON log line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func completedLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	for _, m := range logLines(t, buf) {
		if m["msg"] == "request completed" {
			return m
		}
	}
	t.Fatalf("no completion line in %q", buf.String())
	return nil
}

func TestLoggingMiddleware(t *testing.T) {
	t.Run("logs status and level", func(t *testing.T) {
		tests := []struct {
			status int
			level  string
		}{
			{http.StatusOK, "INFO"},
			{http.StatusTooManyRequests, "WARN"},
			{http.StatusBadGateway, "ERROR"},
		}

		for _, tt := range tests {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			LoggingMiddleware(logger)(next).ServeHTTP(httptest.NewRecorder(), req)

			line := completedLine(t, &buf)
			if line["level"] != tt.level {
				t.Errorf("status %d: level = %v, want %s", tt.status, line["level"], tt.level)
			}
			if line["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", line["status"], tt.status)
			}
			if _, ok := line["class"]; ok {
				t.Error("unrouted request should not log a class")
			}
		}
	})

	t.Run("includes rate limit outcome", func(t *testing.T) {
		l, _ := newTestLimiter(t)
		admission := NewAdmission(l, newTestExtractor(t)).For(policy.ClassAuth)(okHandler())

		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		h := LoggingMiddleware(logger)(admission)

		doRequest(h, "203.0.113.7:5000")

		line := completedLine(t, &buf)
		if line["class"] != "auth" {
			t.Errorf("class = %v, want auth", line["class"])
		}
		if line["client_ip"] != "203.0.113.7" {
			t.Errorf("client_ip = %v, want 203.0.113.7", line["client_ip"])
		}
		if line["allowed"] != true {
			t.Errorf("allowed = %v, want true", line["allowed"])
		}
		if line["degraded"] != false {
			t.Errorf("degraded = %v, want false", line["degraded"])
		}
	})

	t.Run("sets start time", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetStartTime(r.Context()).IsZero() {
				t.Error("start time should be set")
			}
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		LoggingMiddleware(logger)(next).ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	_, _ = rw.Write([]byte("body"))
	rw.WriteHeader(http.StatusTeapot)

	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want implicit 200", rw.statusCode)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap() should return the wrapped writer")
	}
}
