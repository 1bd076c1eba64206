// Package sqlite implements the repository.Store contract on SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C compiler, cross-compiles
// everywhere Go does. The database is a single file next to the binary, or
// ":memory:" for tests.
//
// ORDERING:
// Every table carries `seq INTEGER PRIMARY KEY AUTOINCREMENT`. Index queries
// ORDER BY seq, which is insertion order and never reused, so listings are
// stable across reads and restarts.
//
// TRANSACTIONS:
// Reads on *DB run as single statements (one consistent snapshot each).
// Writes go through Update, which wraps the callback in BEGIN … COMMIT and
// rolls back on any error, so a failed write leaves no partial rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/chef-chat/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// querier is the subset of *sql.DB and *sql.Tx the query code needs, so the
// same read methods serve point reads and in-transaction reads.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the read methods; embedded by DB (pool) and txn (transaction).
type queries struct {
	q querier
}

// txn is the repository.Tx handed to Update callbacks.
type txn struct {
	queries
}

// DB wraps a sql.DB connection pool.
type DB struct {
	queries
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/chat.db" → file-based database (persistent, WAL mode)
//   - ":memory:"     → in-memory database (tests)
//
// An in-memory database exists per connection, so the pool is pinned to a
// single connection in that case; otherwise every pooled connection would see
// its own empty database.
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if dbPath != ":memory:" {
		// WAL lets readers proceed while a write transaction is open.
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
		}
	}

	db := &DB{queries: queries{q: conn}, conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Update runs fn inside one transaction. The transaction commits only if fn
// returns nil; otherwise it is rolled back and fn's error is returned as is,
// so apperror values survive untouched.
func (db *DB) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(&txn{queries: queries{q: sqlTx}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("sqlite: rolling back after %v: %w", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema. CREATE … IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS channels (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_channels_by_name ON channels(name, seq);
	`)
	if err != nil {
		return fmt.Errorf("creating channels table: %w", err)
	}

	// channel_id references channels(id) without cascade: messages are
	// append-only and channels are never deleted.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			channel_id TEXT NOT NULL REFERENCES channels(id),
			author_id  TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_by_channel ON messages(channel_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	// user_id is UNIQUE: at most one profile per user, enforced by storage.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			user_id    TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			avatar_ref TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}

	// github_id and email are nullable UNIQUE columns: NULLs never collide,
	// so password users and GitHub users share one table.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			github_id     INTEGER UNIQUE,
			login         TEXT NOT NULL,
			email         TEXT UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// Depending on whether extended result codes are on, the driver reports either
// SQLITE_CONSTRAINT_UNIQUE or the primary SQLITE_CONSTRAINT code.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
