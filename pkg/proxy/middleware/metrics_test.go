package middleware

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/telemetry/metrics"
)

// requestCount returns throttle_http_requests_total for class and status.
func requestCount(t *testing.T, reg *prometheus.Registry, class, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "throttle_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m, map[string]string{"class": class, "status": status}) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, reg)

	l, _ := newTestLimiter(t)
	admission := NewAdmission(l, newTestExtractor(t)).For(policy.ClassAuth)(okHandler())

	routed := MetricsMiddleware(collector)(admission)
	for i := 0; i < 4; i++ {
		doRequest(routed, "203.0.113.7:5000")
	}

	unrouted := MetricsMiddleware(collector)(okHandler())
	doRequest(unrouted, "203.0.113.7:5000")

	if got := requestCount(t, reg, "auth", "200"); got != 3 {
		t.Errorf("auth/200 = %v, want 3", got)
	}
	if got := requestCount(t, reg, "auth", "429"); got != 1 {
		t.Errorf("auth/429 = %v, want 1", got)
	}
	if got := requestCount(t, reg, metrics.UnroutedClass, "200"); got != 1 {
		t.Errorf("unrouted/200 = %v, want 1", got)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: false}, reg)

	for _, c := range []*metrics.Collector{collector, nil} {
		w := doRequest(MetricsMiddleware(c)(okHandler()), "203.0.113.7:5000")
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	}
	if got := requestCount(t, reg, metrics.UnroutedClass, "200"); got != 0 {
		t.Errorf("disabled collector recorded %v requests", got)
	}
}
