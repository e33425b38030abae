package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_DropExpired(t *testing.T) {
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{CleanupInterval: -1})
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Hit(ctx, "short", epoch, time.Second, 1); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	if _, err := s.Hit(ctx, "long", epoch, time.Hour, 1); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}

	if dropped := s.dropExpired(epoch.Add(5 * time.Second).UnixMicro()); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_CleanupLoop(t *testing.T) {
	now := epoch.Add(time.Hour)
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{
		CleanupInterval: 10 * time.Millisecond,
		Now:             func() time.Time { return now },
	})
	defer s.Close()

	if _, err := s.Hit(context.Background(), "k", epoch, time.Second, 1); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("cleanup loop did not drop the expired key")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_OutOfOrderTimestamps(t *testing.T) {
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{CleanupInterval: -1})
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Hit(ctx, "k", epoch.Add(5*time.Second), time.Minute, 5); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	res, err := s.Hit(ctx, "k", epoch, time.Minute, 5)
	if err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	if !res.Oldest.Equal(epoch) {
		t.Errorf("oldest = %v, want %v", res.Oldest, epoch)
	}
}

func TestMemoryStore_ClosedOperationsFail(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	_, err := s.Hit(context.Background(), "k", epoch, time.Minute, 1)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Hit after Close = %v, want ErrClosed", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Error("closed store should report unavailable")
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{CleanupInterval: -1})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Hit(ctx, "k", epoch, time.Minute, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Hit error = %v, want context.Canceled", err)
	}
}
