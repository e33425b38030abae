package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
	defaultRedisScanCount   = 500
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Host and Port address a single node. Ignored when Cluster is set.
	Host string
	Port int

	// Cluster selects a cluster client over ClusterNodes.
	Cluster      bool
	ClusterNodes []string

	Username string
	Password string
	DB       int

	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// ApproximateNonAtomic replaces the Hit script with two pipelines. Under
	// concurrency more than limit requests can be admitted in this mode.
	ApproximateNonAtomic bool

	// ScanCount is the COUNT hint passed to SCAN.
	// Default: 500
	ScanCount int64

	// TolerateUnavailable returns a store even when the startup ping fails.
	// The client reconnects on the first operation that reaches Redis.
	TolerateUnavailable bool
}

// RedisStore implements Store on Redis sorted sets. Each key holds one
// member per admitted request, scored by its timestamp.
type RedisStore struct {
	client redis.UniversalClient

	approximate bool
	scanCount   int64

	// instance prefixes members so two gateways never produce the same one.
	instance  string
	memberSeq atomic.Uint64

	opts options

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to Redis and verifies the connection. With
// TolerateUnavailable a failed check is logged instead of returned.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, opts ...Option) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := newRedisClient(conf)
	s := newRedisStore(client, conf, opts)

	if err := s.pingWithRetry(ctx, conf.MaxRetries); err != nil {
		if !conf.TolerateUnavailable {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		s.opts.logger.Warn("redis window store unreachable at startup, continuing",
			"cluster", conf.Cluster,
			"error", err,
		)
		return s, nil
	}

	// Run falls back to EVAL on NOSCRIPT, so a failed preload only costs
	// the first call a round trip.
	for name, script := range map[string]*redis.Script{"hit": hitScript, "reap": reapScript} {
		if err := script.Load(ctx, client).Err(); err != nil {
			s.opts.logger.Warn("failed to preload redis script", "script", name, "error", err)
		}
	}

	s.opts.logger.Info("redis window store connected",
		"cluster", conf.Cluster,
		"tls", conf.TLS != nil,
		"approximate_non_atomic", conf.ApproximateNonAtomic,
	)
	if conf.ApproximateNonAtomic {
		s.opts.logger.Warn("redis window store running in approximate mode, limits may be exceeded under concurrency")
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the client
// and closes it on Close.
func NewRedisStoreFromClient(client redis.UniversalClient, cfg *RedisConfig, opts ...Option) *RedisStore {
	conf := RedisConfig{}
	if cfg != nil {
		conf = *cfg
	}
	if conf.ScanCount <= 0 {
		conf.ScanCount = defaultRedisScanCount
	}
	return newRedisStore(client, &conf, opts)
}

func newRedisStore(client redis.UniversalClient, conf *RedisConfig, opts []Option) *RedisStore {
	return &RedisStore{
		client:      client,
		approximate: conf.ApproximateNonAtomic,
		scanCount:   conf.ScanCount,
		instance:    uuid.NewString(),
		opts:        buildOptions("storage.redis", opts),
	}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (HitResult, error) {
	if err := validateHit(key, window, limit); err != nil {
		return HitResult{}, err
	}
	if s.approximate {
		return s.hitApproximate(ctx, key, now, window, limit)
	}

	res, err := hitScript.Run(ctx, s.client, []string{key},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		s.nextMember(),
		ttl(window).Milliseconds(),
	).Result()
	if err != nil {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("running hit script: %w", err))
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("unexpected hit script result: %T", res))
	}

	allowed, err := asInt64(values[0])
	if err != nil {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("parsing allowed result: %w", err))
	}
	count, err := asInt64(values[1])
	if err != nil {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("parsing count result: %w", err))
	}
	oldest, err := asInt64(values[2])
	if err != nil {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("parsing oldest result: %w", err))
	}

	return HitResult{
		Allowed: allowed == 1,
		Count:   count,
		Oldest:  fromMicros(oldest),
	}, nil
}

// hitApproximate reads the window in one pipeline and appends in a second.
// Requests racing between the two can all be admitted.
func (s *RedisStore) hitApproximate(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (HitResult, error) {
	nowUs := now.UnixMicro()

	read := s.client.Pipeline()
	read.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoffMicros(now, window), 10))
	card := read.ZCard(ctx, key)
	head := read.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := read.Exec(ctx); err != nil {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("reading window: %w", err))
	}

	count := card.Val()
	var oldest int64 = -1
	if zs := head.Val(); len(zs) > 0 {
		oldest = int64(zs[0].Score)
	}

	if count >= limit {
		return HitResult{Count: count, Oldest: fromMicros(oldest)}, nil
	}

	write := s.client.TxPipeline()
	write.ZAdd(ctx, key, redis.Z{Score: float64(nowUs), Member: s.nextMember()})
	write.PExpire(ctx, key, ttl(window))
	if _, err := write.Exec(ctx); err != nil {
		return HitResult{}, wrapErr("hit", key, fmt.Errorf("recording entry: %w", err))
	}

	if oldest < 0 || nowUs < oldest {
		oldest = nowUs
	}
	return HitResult{Allowed: true, Count: count + 1, Oldest: fromMicros(oldest)}, nil
}

// Peek implements Store. It never writes, so expired entries are skipped
// rather than purged.
func (s *RedisStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	if err := validateHit(key, window, 0); err != nil {
		return WindowState{}, err
	}

	from := "(" + strconv.FormatInt(cutoffMicros(now, window), 10)

	pipe := s.client.TxPipeline()
	count := pipe.ZCount(ctx, key, from, "+inf")
	head := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:    from,
		Max:    "+inf",
		Offset: 0,
		Count:  1,
	})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return WindowState{}, wrapErr("peek", key, err)
	}

	state := WindowState{Count: count.Val()}
	if zs := head.Val(); len(zs) > 0 {
		state.Oldest = fromMicros(int64(zs[0].Score))
	}
	return state, nil
}

// Delete implements Store. Keys are deleted one command each so that cluster
// deployments never issue a cross-slot DEL.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return wrapErr("delete", strings.Join(keys, ","), err)
	}
	return nil
}

// Reap implements Store.
func (s *RedisStore) Reap(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	n, err := reapScript.Run(ctx, s.client, []string{key}, cutoff.UnixMicro()).Int64()
	if err != nil {
		return false, wrapErr("reap", key, err)
	}
	return n == 1, nil
}

// Scan implements Store. On a cluster every master is scanned in parallel
// and fn is called from several goroutines.
func (s *RedisStore) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	match := escapeGlob(prefix) + "*"

	if cc, ok := s.client.(*redis.ClusterClient); ok {
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return s.scanNode(ctx, node, prefix, match, fn)
		})
		if err != nil {
			return wrapErr("scan", "", err)
		}
		return nil
	}

	if err := s.scanNode(ctx, s.client, prefix, match, fn); err != nil {
		return wrapErr("scan", "", err)
	}
	return nil
}

func (s *RedisStore) scanNode(ctx context.Context, node redis.Cmdable, prefix, match string, fn func(string) error) error {
	iter := node.Scan(ctx, 0, match, s.scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// SCAN MATCH is a glob; the prefix check guards against escaping gaps.
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return wrapErr("ping", "", s.client.Ping(ctx).Err())
}

// Client returns the underlying client.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *RedisStore) nextMember() string {
	return s.instance + ":" + strconv.FormatUint(s.memberSeq.Add(1), 10)
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := s.client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}

		s.opts.logger.Debug("redis ping failed, retrying", "attempt", i+1, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.ScanCount <= 0 {
		conf.ScanCount = defaultRedisScanCount
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, fmt.Errorf("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, fmt.Errorf("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterNodes,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			TLSConfig:    cfg.TLS,
		})
	}

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.TLS,
	})
}

// escapeGlob escapes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
