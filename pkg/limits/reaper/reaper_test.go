package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/throttle/internal/clock"
	"mercator-hq/throttle/pkg/limits/keys"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/storage"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *storage.MemoryStore
	composer *keys.Composer
	clock    *clock.Virtual
	metrics  *Metrics
	reaper   *Reaper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{CleanupInterval: -1}),
		composer: keys.NewComposer("throttle"),
		clock:    clock.NewVirtual(start),
		metrics:  NewMetrics(prometheus.NewRegistry(), "throttle"),
	}
	t.Cleanup(func() { f.store.Close() })
	f.reaper = New(f.store, policy.NewDefaultRegistry(), f.composer, WithClock(f.clock), WithMetrics(f.metrics))
	return f
}

// record adds one entry to both tiers of a bucket at the fixture's time.
func (f *fixture) record(t *testing.T, ip string, class policy.EndpointClass) keys.Keys {
	t.Helper()
	ks := f.composer.MustCompose(ip, class, "")
	p, err := policy.NewDefaultRegistry().Get(class)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for _, tier := range []policy.Tier{policy.TierBurst, policy.TierSustained} {
		limit, window := p.Window(tier)
		if _, err := f.store.Hit(context.Background(), ks.For(tier), f.clock.Now(), window, limit); err != nil {
			t.Fatalf("Hit failed: %v", err)
		}
	}
	return ks
}

func TestSweep_DeletesOnlyEmptyKeys(t *testing.T) {
	f := newFixture(t)

	old := f.record(t, "10.0.0.1", policy.ClassAuth)
	f.clock.Advance(30 * time.Second)
	fresh := f.record(t, "10.0.0.2", policy.ClassAuth)

	// old: burst (10s) empty, sustained (60s) still live.
	stats, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.Scanned != 4 {
		t.Errorf("Expected 4 keys scanned, got %d", stats.Scanned)
	}
	if stats.Deleted != 1 {
		t.Errorf("Expected 1 key deleted, got %d", stats.Deleted)
	}

	state, _ := f.store.Peek(context.Background(), old.Sustained, f.clock.Now(), time.Minute)
	if state.Count != 1 {
		t.Error("live sustained key must survive the sweep")
	}
	state, _ = f.store.Peek(context.Background(), fresh.Burst, f.clock.Now(), 10*time.Second)
	if state.Count != 1 {
		t.Error("live burst key must survive the sweep")
	}

	f.clock.Advance(2 * time.Minute)
	stats, err = f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.Deleted != 3 {
		t.Errorf("Expected remaining 3 keys deleted, got %d", stats.Deleted)
	}
	if f.store.Len() != 0 {
		t.Errorf("Expected empty store, got %d keys", f.store.Len())
	}

	if got := testutil.ToFloat64(f.metrics.keysDeleted); got != 4 {
		t.Errorf("Expected 4 deletions recorded, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.sweeps.WithLabelValues("ok")); got != 2 {
		t.Errorf("Expected 2 successful sweeps, got %v", got)
	}
}

func TestSweep_IgnoresOtherNamespaces(t *testing.T) {
	f := newFixture(t)

	if _, err := f.store.Hit(context.Background(), "other:burst:x:auth", start, time.Second, 1); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	f.clock.Advance(time.Hour)

	stats, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.Scanned != 0 {
		t.Errorf("Expected no keys scanned, got %d", stats.Scanned)
	}
	if f.store.Len() != 1 {
		t.Error("foreign key must not be touched")
	}
}

func TestSweep_UnparseableKeyUsesLargestWindow(t *testing.T) {
	f := newFixture(t)

	if _, err := f.store.Hit(context.Background(), "throttle:garbage", start, time.Hour, 1); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}

	f.clock.Advance(30 * time.Second)
	stats, err := f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.Deleted != 0 {
		t.Error("entry younger than the largest window must be kept")
	}

	f.clock.Advance(time.Minute)
	stats, err = f.reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.Deleted != 1 {
		t.Errorf("Expected unparseable key deleted after the largest window, got %d", stats.Deleted)
	}
}

// failingReapStore fails every Reap.
type failingReapStore struct {
	storage.Store
}

func (s *failingReapStore) Reap(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	return false, &storage.Error{Op: "reap", Key: key, Err: errors.New("timeout")}
}

func TestSweep_CountsKeyFailures(t *testing.T) {
	f := newFixture(t)
	f.record(t, "10.0.0.1", policy.ClassAPI)

	r := New(&failingReapStore{Store: f.store}, policy.NewDefaultRegistry(), f.composer, WithClock(f.clock))
	stats, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("per-key failures should not fail the sweep: %v", err)
	}
	if stats.Errors != 2 {
		t.Errorf("Expected 2 failed keys, got %d", stats.Errors)
	}
}

func TestSweep_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.record(t, "10.0.0.1", policy.ClassAPI)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.reaper.Sweep(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.sweeps.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed sweep, got %v", got)
	}
}

func TestSweep_Span(t *testing.T) {
	f := newFixture(t)
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	rp := New(f.store, policy.NewDefaultRegistry(), f.composer, WithClock(f.clock), WithTracer(tp.Tracer("test")))

	f.record(t, "10.0.0.1", policy.ClassAuth)
	f.clock.Advance(2 * time.Minute)
	if _, err := rp.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "reaper.Sweep" {
		t.Fatalf("Expected one reaper.Sweep span, got %+v", spans)
	}
	want := map[attribute.Key]int64{"throttle.reaper.scanned": 2, "throttle.reaper.deleted": 2}
	for _, kv := range spans[0].Attributes {
		if v, ok := want[kv.Key]; ok && kv.Value.AsInt64() != v {
			t.Errorf("Expected %s = %d, got %d", kv.Key, v, kv.Value.AsInt64())
		}
	}
}
