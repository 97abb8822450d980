package typename

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLiteIndex keeps the typename index in a typenames table so it survives
// restarts alongside a SQLite cache store in the same database file.
type SQLiteIndex struct {
	db *sql.DB
}

var _ Index = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens dbPath and prepares the typenames table. If dbPath is
// empty or ":memory:", an in-memory database is used.
func NewSQLiteIndex(ctx context.Context, dbPath string) (*SQLiteIndex, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "typename: open sqlite")
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA busy_timeout=5000`,
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS typenames (
			typename TEXT NOT NULL,
			key TEXT NOT NULL,
			PRIMARY KEY (typename, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_typenames_key ON typenames(key)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "typename: prepare sqlite schema")
		}
	}
	return &SQLiteIndex{db: db}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func (i *SQLiteIndex) Record(ctx context.Context, key string, typenames []string) error {
	if len(typenames) == 0 {
		return nil
	}
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "typename: record %q", key)
	}
	defer tx.Rollback()
	for _, t := range typenames {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO typenames (typename, key) VALUES (?, ?)`, t, key); err != nil {
			return errors.Wrapf(err, "typename: record %q", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "typename: record %q", key)
	}
	return nil
}

func (i *SQLiteIndex) KeysFor(ctx context.Context, typenames []string) ([]string, error) {
	if len(typenames) == 0 {
		return nil, nil
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT DISTINCT key FROM typenames WHERE typename IN (`+placeholders(len(typenames))+`)`,
		args(typenames)...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "typename: lookup keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "typename: lookup keys")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "typename: lookup keys")
	}
	sort.Strings(keys)
	return keys, nil
}

func (i *SQLiteIndex) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := i.db.ExecContext(ctx,
		`DELETE FROM typenames WHERE key IN (`+placeholders(len(keys))+`)`,
		args(keys)...,
	)
	if err != nil {
		return errors.Wrap(err, "typename: forget keys")
	}
	return nil
}

func (i *SQLiteIndex) Clear(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, `DELETE FROM typenames`); err != nil {
		return errors.Wrap(err, "typename: clear")
	}
	return nil
}

// Close releases the database handle.
func (i *SQLiteIndex) Close() error {
	return i.db.Close()
}
