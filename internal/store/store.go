package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations upgrade older databases. Entry i moves a database from
// user_version i to i+1; currentSchemaVersion is len(migrations).
var migrations = []string{
	// 0 -> 1: durable actor votes.
	`CREATE TABLE IF NOT EXISTS votes (
		actor      TEXT    NOT NULL,
		item_type  TEXT    NOT NULL,
		item_id    INTEGER NOT NULL,
		vote       TEXT    NOT NULL CHECK (vote IN ('upvote', 'downvote')),
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (actor, item_type, item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_votes_actor ON votes(actor);`,
}

var currentSchemaVersion = len(migrations)

// Store provides durable local storage for the session and actor votes.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path, creating it if needed, and migrates it
// to the current schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and ":memory:" is
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, step := range []func(*sql.DB) error{(*sql.DB).Ping, applyPragmas, applySchema} {
		if err := step(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// applyPragmas configures the connection: WAL journal, NORMAL sync, a
// five second busy wait and enforced foreign keys.
func applyPragmas(db *sql.DB) error {
	for name, value := range map[string]string{
		"journal_mode": "WAL",
		"synchronous":  "NORMAL",
		"busy_timeout": "5000",
		"foreign_keys": "ON",
	} {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", name, value)); err != nil {
			return fmt.Errorf("pragma %s: %w", name, err)
		}
	}
	return nil
}

// applySchema creates the base tables and brings the database up to
// currentSchemaVersion.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for ; version < len(migrations); version++ {
		if err := migrate(db, version); err != nil {
			return err
		}
	}
	return nil
}

// migrate runs migrations[from] and records the new version in one
// transaction.
func migrate(db *sql.DB, from int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate %d->%d: %w", from, from+1, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migrations[from]); err != nil {
		return fmt.Errorf("migrate %d->%d: %w", from, from+1, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", from+1)); err != nil {
		return fmt.Errorf("migrate %d->%d: set user_version: %w", from, from+1, err)
	}
	return tx.Commit()
}

func (s *Store) verifyPragma(name, want string) error {
	var got string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("pragma %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("pragma %s = %q, want %q", name, got, want)
	}
	return nil
}
