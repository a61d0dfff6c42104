// Package localstore is the client-side counterpart of the browser's
// localStorage: a small SQLite-backed key/value store holding the bits
// of session context that must survive a process restart (bearer token,
// account email, the "my items period" marker). Everything else the
// session holds is deliberately in-memory only.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Well-known keys.
const (
	KeyAuthToken     = "auth_token"
	KeyAuthEmail     = "auth_email"
	KeyMyItemsPeriod = "my_items_period"
)

type Store struct {
	db *sql.DB
}

// Open creates the database file (and its directory) if needed and runs
// the schema migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create localstore directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open localstore: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping localstore: %w", err)
	}
	if err := RunMigrations(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// PeriodMarker adapts the store to the session's PeriodStore port.
type PeriodMarker struct {
	kv *Store
}

func NewPeriodMarker(kv *Store) PeriodMarker {
	return PeriodMarker{kv: kv}
}

func (p PeriodMarker) Period(ctx context.Context) (string, error) {
	value, _, err := p.kv.Get(ctx, KeyMyItemsPeriod)
	return value, err
}

func (p PeriodMarker) SetPeriod(ctx context.Context, period string) error {
	return p.kv.Set(ctx, KeyMyItemsPeriod, period)
}

func (p PeriodMarker) ClearPeriod(ctx context.Context) error {
	return p.kv.Delete(ctx, KeyMyItemsPeriod)
}
