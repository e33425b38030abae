package policy

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func validPolicy() LimitPolicy {
	return LimitPolicy{
		SustainedLimit:  10,
		SustainedWindow: 60 * time.Second,
		BurstLimit:      3,
		BurstWindow:     10 * time.Second,
		Cooldown:        time.Second,
	}
}

func TestLimitPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *LimitPolicy)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *LimitPolicy) {}},
		{name: "zero limits allowed", mutate: func(p *LimitPolicy) { p.BurstLimit = 0; p.SustainedLimit = 0 }},
		{name: "equal tiers allowed", mutate: func(p *LimitPolicy) { p.BurstLimit = 10; p.BurstWindow = 60 * time.Second }},
		{name: "burst limit above sustained", mutate: func(p *LimitPolicy) { p.BurstLimit = 11 }, wantErr: true},
		{name: "burst window above sustained", mutate: func(p *LimitPolicy) { p.BurstWindow = 61 * time.Second }, wantErr: true},
		{name: "zero sustained window", mutate: func(p *LimitPolicy) { p.SustainedWindow = 0 }, wantErr: true},
		{name: "negative burst window", mutate: func(p *LimitPolicy) { p.BurstWindow = -time.Second }, wantErr: true},
		{name: "sub-millisecond burst window", mutate: func(p *LimitPolicy) { p.BurstWindow = 500 * time.Nanosecond }, wantErr: true},
		{name: "sub-millisecond windows", mutate: func(p *LimitPolicy) { p.BurstWindow = time.Microsecond; p.SustainedWindow = 999 * time.Microsecond }, wantErr: true},
		{name: "one millisecond windows", mutate: func(p *LimitPolicy) { p.BurstWindow = MinWindow; p.SustainedWindow = MinWindow }},
		{name: "negative limit", mutate: func(p *LimitPolicy) { p.BurstLimit = -1 }, wantErr: true},
		{name: "negative cooldown", mutate: func(p *LimitPolicy) { p.Cooldown = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)

			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Expected error to wrap ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestNewRegistry_RejectsInvalid(t *testing.T) {
	bad := validPolicy()
	bad.BurstLimit = 100

	_, err := NewRegistry(map[EndpointClass]LimitPolicy{
		ClassAPI:  validPolicy(),
		ClassAuth: bad,
	})
	if err == nil {
		t.Fatal("Expected error for invalid policy")
	}
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Expected ErrInvalidPolicy, got %v", err)
	}
}

func TestNewRegistry_Empty(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Error("Expected error for empty registry")
	}
}

func TestRegistry_GetUnknownClass(t *testing.T) {
	r := NewDefaultRegistry()

	_, err := r.Get("nope")
	if !errors.Is(err, ErrUnknownEndpointClass) {
		t.Fatalf("Expected ErrUnknownEndpointClass, got %v", err)
	}

	var classErr *ClassError
	if !errors.As(err, &classErr) || classErr.Class != "nope" {
		t.Errorf("Expected ClassError naming the class, got %v", err)
	}
}

func TestRegistry_Set(t *testing.T) {
	r := NewDefaultRegistry()

	updated := validPolicy()
	updated.SustainedLimit = 42
	if err := r.Set(ClassAPI, updated); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := r.Get(ClassAPI)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SustainedLimit != 42 {
		t.Errorf("Expected sustained limit 42, got %d", got.SustainedLimit)
	}

	if err := r.Set("brand-new", validPolicy()); !errors.Is(err, ErrUnknownEndpointClass) {
		t.Errorf("Expected ErrUnknownEndpointClass for new class, got %v", err)
	}

	bad := validPolicy()
	bad.BurstWindow = 2 * time.Minute
	if err := r.Set(ClassAPI, bad); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Expected ErrInvalidPolicy, got %v", err)
	}

	got, _ = r.Get(ClassAPI)
	if got.SustainedLimit != 42 {
		t.Errorf("Rejected override must not change the policy, got %d", got.SustainedLimit)
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewDefaultRegistry()

	snap := r.Snapshot()
	delete(snap, ClassAPI)

	if !r.Has(ClassAPI) {
		t.Error("Mutating a snapshot must not affect the registry")
	}
}

func TestRegistry_ClassesSorted(t *testing.T) {
	r := NewDefaultRegistry()
	classes := r.Classes()

	if len(classes) != len(Defaults()) {
		t.Fatalf("Expected %d classes, got %d", len(Defaults()), len(classes))
	}
	for i := 1; i < len(classes); i++ {
		if classes[i-1] >= classes[i] {
			t.Errorf("Classes not sorted: %v", classes)
		}
	}
}

func TestRegistry_MaxWindow(t *testing.T) {
	r := NewDefaultRegistry()
	if got := r.MaxWindow(); got != time.Minute {
		t.Errorf("Expected max window 1m, got %v", got)
	}
}

func TestRegistry_ConcurrentReadWrite(t *testing.T) {
	r := NewDefaultRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int64) {
			defer wg.Done()
			p := validPolicy()
			p.SustainedLimit = 10 + n
			_ = r.Set(ClassSearch, p)
		}(int64(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := r.Get(ClassSearch); err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDefaults_AreValid(t *testing.T) {
	for class, p := range Defaults() {
		if err := p.Validate(); err != nil {
			t.Errorf("default policy for %s invalid: %v", class, err)
		}
	}
}
