package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*sqliteStore)(nil)

// NewSQLite returns a Store backed by SQLite. Values are msgpack encoded and
// Get returns the raw []byte; use GetAs to decode.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	cfg := applyOptions(opts)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "cache: open sqlite")
	}
	// a single connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA busy_timeout=5000`,
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "cache: prepare sqlite schema")
		}
	}

	childCtx, cancel := context.WithCancel(ctx)
	c := &sqliteStore{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
	}
	if cfg.expires > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c, nil
}

func (c *sqliteStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func expiresAt(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (c *sqliteStore) Get(ctx context.Context, key string) (any, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var data []byte
	err := c.db.QueryRowContext(qctx,
		`SELECT value FROM cache WHERE key = ? AND (expires_at = 0 OR expires_at >= ?)`,
		key, time.Now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "cache: sqlite get %q", key)
	}
	return data, true, nil
}

func (c *sqliteStore) Has(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var n int
	err := c.db.QueryRowContext(qctx,
		`SELECT COUNT(1) FROM cache WHERE key = ? AND (expires_at = 0 OR expires_at >= ?)`,
		key, time.Now().UnixNano(),
	).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "cache: sqlite has %q", key)
	}
	return n > 0, nil
}

func (c *sqliteStore) Set(ctx context.Context, key string, val any) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: marshal %q", key)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	_, err = c.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expiresAt(c.cfg.deadline(time.Now())),
	)
	if err != nil {
		return errors.Wrapf(err, "cache: sqlite set %q", key)
	}
	return nil
}

func (c *sqliteStore) Delete(ctx context.Context, key string) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if _, err := c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "cache: sqlite delete %q", key)
	}
	return nil
}

func (c *sqliteStore) Clear(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if _, err := c.db.ExecContext(qctx, `DELETE FROM cache`); err != nil {
		return errors.Wrap(err, "cache: sqlite clear")
	}
	return nil
}

func (c *sqliteStore) Close() error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *sqliteStore) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.db.ExecContext(c.ctx, `DELETE FROM cache WHERE expires_at > 0 AND expires_at < ?`, time.Now().UnixNano())
		}
	}
}
