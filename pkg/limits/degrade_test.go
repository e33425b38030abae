package limits

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/throttle/internal/clock"
	"mercator-hq/throttle/pkg/limits/storage"
)

var errDown = errors.New("connection refused")

func newTestDegrader(cfg DegraderConfig) (*Degrader, *clock.Virtual, *bytes.Buffer) {
	var buf bytes.Buffer
	vc := clock.NewVirtual(start)
	cfg.Clock = vc
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	return NewDegrader(cfg), vc, &buf
}

func TestDegrader_GuardReportsFailures(t *testing.T) {
	d, _, _ := newTestDegrader(DegraderConfig{})
	ctx := context.Background()

	if err := d.Guard(ctx, "hit", func(context.Context) error { return nil }); err != nil {
		t.Errorf("successful call returned %v", err)
	}
	if err := d.Guard(ctx, "hit", func(context.Context) error { return errDown }); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("failed call returned %v, want ErrStoreUnavailable", err)
	}
	if !d.Degraded() {
		t.Error("degrader should be degraded after a failure")
	}
	if err := d.Guard(ctx, "hit", func(context.Context) error { return nil }); err != nil {
		t.Errorf("next successful call returned %v", err)
	}
	if d.Degraded() {
		t.Error("degrader should recover after a success")
	}
}

func TestDegrader_AppliesOperationTimeout(t *testing.T) {
	d, _, _ := newTestDegrader(DegraderConfig{OperationTimeout: 20 * time.Millisecond})

	var deadline time.Time
	d.Guard(context.Background(), "hit", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	if deadline.IsZero() {
		t.Fatal("guarded call should carry a deadline")
	}
	if remaining := time.Until(deadline); remaining > 20*time.Millisecond {
		t.Errorf("deadline too far away: %v", remaining)
	}
}

func TestDegrader_SamplesWarnings(t *testing.T) {
	d, _, buf := newTestDegrader(DegraderConfig{WarnInterval: time.Hour})

	for i := 0; i < 50; i++ {
		d.Guard(context.Background(), "hit", func(context.Context) error { return errDown })
	}

	if got := strings.Count(buf.String(), "failing open"); got != 1 {
		t.Errorf("Expected 1 warning in the interval, got %d", got)
	}
	if got := d.suppressed.Load(); got != 49 {
		t.Errorf("Expected 49 suppressed warnings, got %d", got)
	}
}

func TestDegrader_BreakerOpensAndRecovers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "throttle")
	d, vc, _ := newTestDegrader(DegraderConfig{
		Breaker: BreakerConfig{Enabled: true, FailureThreshold: 3, Cooldown: 5 * time.Second},
		Metrics: m,
	})
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error { calls++; return errDown }
	healthy := func(context.Context) error { calls++; return nil }

	for i := 0; i < 3; i++ {
		d.Guard(ctx, "hit", failing)
	}
	if d.State() != BreakerOpen {
		t.Fatalf("Expected breaker open after 3 failures, got %s", d.State())
	}
	if got := testutil.ToFloat64(m.breakerState); got != float64(BreakerOpen) {
		t.Errorf("Expected breaker gauge %d, got %v", BreakerOpen, got)
	}

	// Open breaker skips the store.
	for i := 0; i < 10; i++ {
		if err := d.Guard(ctx, "hit", healthy); !errors.Is(err, ErrStoreUnavailable) {
			t.Fatal("open breaker should fail open without calling the store")
		}
	}
	if calls != 3 {
		t.Errorf("Expected 3 store calls, got %d", calls)
	}

	// After the cooldown one probe goes through; a failed probe re-opens.
	vc.Advance(5 * time.Second)
	if err := d.Guard(ctx, "hit", failing); err == nil {
		t.Fatal("failed probe should return an error")
	}
	if d.State() != BreakerOpen {
		t.Fatalf("Expected breaker open after failed probe, got %s", d.State())
	}
	if calls != 4 {
		t.Errorf("Expected probe to reach the store, got %d calls", calls)
	}

	vc.Advance(5 * time.Second)
	if err := d.Guard(ctx, "hit", healthy); err != nil {
		t.Fatalf("successful probe returned %v", err)
	}
	if d.State() != BreakerClosed {
		t.Errorf("Expected breaker closed after successful probe, got %s", d.State())
	}
	if got := testutil.ToFloat64(m.breakerState); got != float64(BreakerClosed) {
		t.Errorf("Expected breaker gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("hit")); got != 14 {
		t.Errorf("Expected 14 degraded calls, got %v", got)
	}
}

func TestDegrader_BreakerDisabledByDefault(t *testing.T) {
	d, _, _ := newTestDegrader(DegraderConfig{})

	for i := 0; i < 20; i++ {
		d.Guard(context.Background(), "hit", func(context.Context) error { return errDown })
	}
	if d.State() != BreakerClosed {
		t.Errorf("disabled breaker should stay closed, got %s", d.State())
	}

	called := false
	d.Guard(context.Background(), "hit", func(context.Context) error { called = true; return nil })
	if !called {
		t.Error("disabled breaker must not skip calls")
	}
}

func TestDegrader_InvalidArgumentIsNotAnOutage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "throttle")
	d, vc, buf := newTestDegrader(DegraderConfig{
		Breaker: BreakerConfig{Enabled: true, FailureThreshold: 1, Cooldown: time.Second},
		Metrics: m,
	})
	ctx := context.Background()
	rejected := func(context.Context) error {
		return fmt.Errorf("%w: window must be at least 1µs", storage.ErrInvalidArgument)
	}

	for i := 0; i < 5; i++ {
		err := d.Guard(ctx, "hit", rejected)
		if !errors.Is(err, storage.ErrInvalidArgument) || errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("Guard() = %v, want the argument error unwrapped", err)
		}
	}
	if d.Degraded() || d.State() != BreakerClosed {
		t.Errorf("degraded=%v breaker=%s, want healthy", d.Degraded(), d.State())
	}
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("hit")); got != 0 {
		t.Errorf("Expected 0 degraded calls, got %v", got)
	}
	if strings.Contains(buf.String(), "failing open") {
		t.Error("argument errors should not log a store outage")
	}

	// A rejected half-open probe frees the slot for the next call.
	d.Guard(ctx, "hit", func(context.Context) error { return errDown })
	vc.Advance(time.Second)
	d.Guard(ctx, "hit", rejected)
	if err := d.Guard(ctx, "hit", func(context.Context) error { return nil }); err != nil {
		t.Errorf("probe after a rejected call returned %v", err)
	}
	if d.State() != BreakerClosed {
		t.Errorf("Expected breaker closed, got %s", d.State())
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
