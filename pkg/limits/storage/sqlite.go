package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a SQLite database file. Several gateway
// processes on one host can share the file: each Hit runs in an immediate
// transaction, which takes the database write lock before reading.
//
// SQLiteStore uses a write-ahead log and checkpoints it periodically.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closed             atomic.Bool
	closeOnce          sync.Once

	instance  string
	memberSeq atomic.Uint64

	opts options

	// preparedStatements contains pre-compiled SQL statements for performance
	expiryStmt    *sql.Stmt
	purgeStmt     *sql.Stmt
	countStmt     *sql.Stmt
	insertStmt    *sql.Stmt
	touchStmt     *sql.Stmt
	dropRowsStmt  *sql.Stmt
	dropKeyStmt   *sql.Stmt
	peekStmt      *sql.Stmt
	listKeysStmt  *sql.Stmt
	keyExistsStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string

	// BusyTimeout is how long to wait for the write lock before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// NewSQLiteStore opens path with default settings.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{Path: path}, opts...)
}

// NewSQLiteStoreWithConfig opens a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig, opts ...Option) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection per process; other processes are serialised by the
	// database lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
		instance:           uuid.NewString(),
		opts:               buildOptions("storage.sqlite", opts),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS window_entries (
		key TEXT NOT NULL,
		ts INTEGER NOT NULL,
		member TEXT NOT NULL,
		PRIMARY KEY (key, member)
	);

	CREATE INDEX IF NOT EXISTS idx_window_entries_key_ts ON window_entries(key, ts);

	CREATE TABLE IF NOT EXISTS window_keys (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.expiryStmt, `SELECT expires_at FROM window_keys WHERE key = ?`},
		{&s.purgeStmt, `DELETE FROM window_entries WHERE key = ? AND ts <= ?`},
		{&s.countStmt, `SELECT COUNT(*), MIN(ts) FROM window_entries WHERE key = ?`},
		{&s.insertStmt, `INSERT INTO window_entries (key, ts, member) VALUES (?, ?, ?)`},
		{&s.touchStmt, `
			INSERT INTO window_keys (key, expires_at) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at`},
		{&s.dropRowsStmt, `DELETE FROM window_entries WHERE key = ?`},
		{&s.dropKeyStmt, `DELETE FROM window_keys WHERE key = ?`},
		{&s.peekStmt, `
			SELECT COUNT(e.ts), MIN(e.ts)
			FROM window_entries e
			JOIN window_keys k ON k.key = e.key
			WHERE e.key = ? AND e.ts > ? AND k.expires_at > ?`},
		{&s.listKeysStmt, `SELECT key FROM window_keys WHERE key LIKE ? ESCAPE '\' ORDER BY key`},
		{&s.keyExistsStmt, `SELECT COUNT(*) FROM window_keys WHERE key = ?`},
	}

	for _, st := range stmts {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", strings.TrimSpace(st.query), err)
		}
		*st.dst = stmt
	}
	return nil
}

// Hit implements Store.
func (s *SQLiteStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (HitResult, error) {
	if err := validateHit(key, window, limit); err != nil {
		return HitResult{}, err
	}
	if s.closed.Load() {
		return HitResult{}, wrapErr("hit", key, ErrClosed)
	}

	nowUs := now.UnixMicro()
	var result HitResult

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireLocked(ctx, tx, key, nowUs); err != nil {
			return err
		}
		if _, err := tx.StmtContext(ctx, s.purgeStmt).ExecContext(ctx, key, cutoffMicros(now, window)); err != nil {
			return fmt.Errorf("purging entries: %w", err)
		}

		var count int64
		var oldest sql.NullInt64
		if err := tx.StmtContext(ctx, s.countStmt).QueryRowContext(ctx, key).Scan(&count, &oldest); err != nil {
			return fmt.Errorf("counting entries: %w", err)
		}

		result.Count = count
		if oldest.Valid {
			result.Oldest = fromMicros(oldest.Int64)
		}
		if count >= limit {
			return nil
		}

		if _, err := tx.StmtContext(ctx, s.insertStmt).ExecContext(ctx, key, nowUs, s.nextMember()); err != nil {
			return fmt.Errorf("recording entry: %w", err)
		}
		if _, err := tx.StmtContext(ctx, s.touchStmt).ExecContext(ctx, key, nowUs+ttl(window).Microseconds()); err != nil {
			return fmt.Errorf("updating expiry: %w", err)
		}

		result.Allowed = true
		result.Count = count + 1
		if !oldest.Valid || nowUs < oldest.Int64 {
			result.Oldest = fromMicros(nowUs)
		}
		return nil
	})
	if err != nil {
		return HitResult{}, wrapErr("hit", key, err)
	}
	return result, nil
}

// expireLocked drops key when its expiry has passed, mirroring a Redis TTL.
func (s *SQLiteStore) expireLocked(ctx context.Context, tx *sql.Tx, key string, nowUs int64) error {
	var expiresAt int64
	err := tx.StmtContext(ctx, s.expiryStmt).QueryRowContext(ctx, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading expiry: %w", err)
	}
	if expiresAt > nowUs {
		return nil
	}
	return s.dropLocked(ctx, tx, key)
}

func (s *SQLiteStore) dropLocked(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.StmtContext(ctx, s.dropRowsStmt).ExecContext(ctx, key); err != nil {
		return fmt.Errorf("dropping entries: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.dropKeyStmt).ExecContext(ctx, key); err != nil {
		return fmt.Errorf("dropping key: %w", err)
	}
	return nil
}

// Peek implements Store.
func (s *SQLiteStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	if err := validateHit(key, window, 0); err != nil {
		return WindowState{}, err
	}
	if s.closed.Load() {
		return WindowState{}, wrapErr("peek", key, ErrClosed)
	}

	var count int64
	var oldest sql.NullInt64
	err := s.peekStmt.QueryRowContext(ctx, key, cutoffMicros(now, window), now.UnixMicro()).Scan(&count, &oldest)
	if err != nil {
		return WindowState{}, wrapErr("peek", key, err)
	}

	state := WindowState{Count: count}
	if oldest.Valid {
		state.Oldest = fromMicros(oldest.Int64)
	}
	return state, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if s.closed.Load() {
		return wrapErr("delete", "", ErrClosed)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if err := s.dropLocked(ctx, tx, key); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr("delete", strings.Join(keys, ","), err)
}

// Reap implements Store.
func (s *SQLiteStore) Reap(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	if s.closed.Load() {
		return false, wrapErr("reap", key, ErrClosed)
	}

	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		if err := tx.StmtContext(ctx, s.keyExistsStmt).QueryRowContext(ctx, key).Scan(&exists); err != nil {
			return fmt.Errorf("checking key: %w", err)
		}
		if exists == 0 {
			return nil
		}

		if _, err := tx.StmtContext(ctx, s.purgeStmt).ExecContext(ctx, key, cutoff.UnixMicro()); err != nil {
			return fmt.Errorf("purging entries: %w", err)
		}

		var count int64
		var oldest sql.NullInt64
		if err := tx.StmtContext(ctx, s.countStmt).QueryRowContext(ctx, key).Scan(&count, &oldest); err != nil {
			return fmt.Errorf("counting entries: %w", err)
		}
		if count > 0 {
			return nil
		}

		if _, err := tx.StmtContext(ctx, s.dropKeyStmt).ExecContext(ctx, key); err != nil {
			return fmt.Errorf("dropping key: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, wrapErr("reap", key, err)
	}
	return deleted, nil
}

// Scan implements Store. Matching keys are read before fn runs, so fn may
// call back into the store.
func (s *SQLiteStore) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	if s.closed.Load() {
		return wrapErr("scan", "", ErrClosed)
	}

	rows, err := s.listKeysStmt.QueryContext(ctx, escapeLike(prefix)+"%")
	if err != nil {
		return wrapErr("scan", "", err)
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return wrapErr("scan", "", fmt.Errorf("failed to scan row: %w", err))
		}
		// LIKE is case-insensitive for ASCII.
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wrapErr("scan", "", fmt.Errorf("error iterating rows: %w", err))
	}
	rows.Close()

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
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return wrapErr("ping", "", ErrClosed)
	}
	return wrapErr("ping", "", s.db.PingContext(ctx))
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.expiryStmt, s.purgeStmt, s.countStmt, s.insertStmt, s.touchStmt,
			s.dropRowsStmt, s.dropKeyStmt, s.peekStmt, s.listKeysStmt, s.keyExistsStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			// Run final checkpoint
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// inTx runs fn in a transaction. With _txlock=immediate the driver issues
// BEGIN IMMEDIATE.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) nextMember() string {
	return s.instance + ":" + strconv.FormatUint(s.memberSeq.Add(1), 10)
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.opts.logger.Debug("wal checkpoint failed", "path", s.dbPath, "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
