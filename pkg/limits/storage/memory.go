package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. Entries do not survive a
// restart and are not shared between processes.
//
// MemoryStore is safe for concurrent use; every operation holds a single mutex,
// which makes Hit atomic per key.
type MemoryStore struct {
	// windows maps a key to its entry log.
	windows map[string]*memoryWindow

	// mu protects windows and closed.
	mu sync.Mutex

	closed bool

	// cleanupInterval is how often expired keys are dropped.
	cleanupInterval time.Duration

	// now is used by the cleanup loop only; operations take time from callers.
	now func() time.Time

	// done signals the cleanup goroutine to stop.
	done      chan struct{}
	closeOnce sync.Once
}

type memoryWindow struct {
	// scores holds entry timestamps in unix microseconds, ascending.
	scores []int64

	// expiresAt is the key TTL deadline in unix microseconds.
	expiresAt int64
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often expired keys are removed.
	// Default: 1 minute. A negative value disables the cleanup loop.
	CleanupInterval time.Duration

	// Now overrides the clock used by the cleanup loop.
	// Default: time.Now
	Now func() time.Time
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &MemoryStore{
		windows:         make(map[string]*memoryWindow),
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		done:            make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go m.cleanupLoop()
	}

	return m
}

// Hit implements Store.
func (m *MemoryStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (HitResult, error) {
	if err := validateHit(key, window, limit); err != nil {
		return HitResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return HitResult{}, wrapErr("hit", key, err)
	}

	nowUs := now.UnixMicro()
	cutoff := cutoffMicros(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return HitResult{}, wrapErr("hit", key, ErrClosed)
	}

	w := m.liveWindowLocked(key, nowUs)
	if w != nil {
		w.purge(cutoff)
	}

	var count int64
	if w != nil {
		count = int64(len(w.scores))
	}

	result := HitResult{Count: count}
	if count < limit {
		if w == nil {
			w = &memoryWindow{}
			m.windows[key] = w
		}
		w.insert(nowUs)
		w.expiresAt = nowUs + ttl(window).Microseconds()
		result.Allowed = true
		result.Count = count + 1
	}

	if w != nil && len(w.scores) > 0 {
		result.Oldest = fromMicros(w.scores[0])
	} else if w != nil {
		delete(m.windows, key)
	}

	return result, nil
}

// Peek implements Store.
func (m *MemoryStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	if err := validateHit(key, window, 0); err != nil {
		return WindowState{}, err
	}
	if err := ctx.Err(); err != nil {
		return WindowState{}, wrapErr("peek", key, err)
	}

	nowUs := now.UnixMicro()
	cutoff := cutoffMicros(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return WindowState{}, wrapErr("peek", key, ErrClosed)
	}

	w := m.liveWindowLocked(key, nowUs)
	if w == nil {
		return WindowState{}, nil
	}

	// Entries after now are counted, matching a ZCOUNT over (cutoff, +inf].
	i := sort.Search(len(w.scores), func(i int) bool { return w.scores[i] > cutoff })
	live := w.scores[i:]
	if len(live) == 0 {
		return WindowState{}, nil
	}
	return WindowState{Count: int64(len(live)), Oldest: fromMicros(live[0])}, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrapErr("delete", "", ErrClosed)
	}
	for _, key := range keys {
		delete(m.windows, key)
	}
	return nil
}

// Reap implements Store.
func (m *MemoryStore) Reap(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, wrapErr("reap", key, ErrClosed)
	}

	w, ok := m.windows[key]
	if !ok {
		return false, nil
	}
	w.purge(cutoff.UnixMicro())
	if len(w.scores) > 0 {
		return false, nil
	}
	delete(m.windows, key)
	return true, nil
}

// Scan implements Store. Keys are visited in lexical order from a snapshot,
// so fn may call back into the store.
func (m *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return wrapErr("scan", "", ErrClosed)
	}
	keys := make([]string, 0, len(m.windows))
	for key := range m.windows {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return wrapErr("scan", "", err)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("ping", "", ErrClosed)
	}
	return nil
}

// Close stops the cleanup goroutine and drops all entries.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.closed = true
		m.windows = make(map[string]*memoryWindow)
		m.mu.Unlock()
	})
	return nil
}

// Len returns the number of keys held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// liveWindowLocked returns the window for key, dropping it first if its TTL
// has passed. Caller must hold m.mu.
func (m *MemoryStore) liveWindowLocked(key string, nowUs int64) *memoryWindow {
	w, ok := m.windows[key]
	if !ok {
		return nil
	}
	if w.expiresAt <= nowUs {
		delete(m.windows, key)
		return nil
	}
	return w
}

// cleanupLoop periodically drops keys whose TTL has passed.
func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.dropExpired(m.now().UnixMicro())
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) dropExpired(nowUs int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for key, w := range m.windows {
		if w.expiresAt <= nowUs {
			delete(m.windows, key)
			dropped++
		}
	}
	return dropped
}

// purge removes scores at or before cutoff.
func (w *memoryWindow) purge(cutoff int64) {
	i := sort.Search(len(w.scores), func(i int) bool { return w.scores[i] > cutoff })
	if i > 0 {
		w.scores = append(w.scores[:0], w.scores[i:]...)
	}
}

// insert adds a score, keeping scores sorted. Callers may supply a timestamp
// older than the newest entry when clocks disagree.
func (w *memoryWindow) insert(us int64) {
	i := sort.Search(len(w.scores), func(i int) bool { return w.scores[i] > us })
	w.scores = append(w.scores, 0)
	copy(w.scores[i+1:], w.scores[i:])
	w.scores[i] = us
}
