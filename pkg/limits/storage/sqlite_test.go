package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/windows.db"
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if _, err := s.Hit(ctx, "k", epoch, time.Minute, 2); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	state, err := s.Peek(ctx, "k", epoch.Add(time.Second), time.Minute)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if state.Count != 1 {
		t.Errorf("count after reopen = %d, want 1", state.Count)
	}
}

// Two handles on one file behave like two gateway processes.
func TestSQLiteStore_SharedFile(t *testing.T) {
	path := t.TempDir() + "/shared.db"

	a, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer a.Close()
	b, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer b.Close()

	const limit = 10
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func(s *SQLiteStore) {
			defer wg.Done()
			res, err := s.Hit(context.Background(), "shared", epoch, time.Minute, limit)
			if err != nil {
				t.Errorf("Hit failed: %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}(s)
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Errorf("allowed = %d, want %d", got, limit)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"throttle:", "throttle:"},
		{"a_b", `a\_b`},
		{"50%", `50\%`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
