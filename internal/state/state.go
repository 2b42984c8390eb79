package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stridesync/stridesync/internal/fitbit"
)

const lastSyncKey = "last_sync_time"

// DB is the durable state store: the OAuth token triple plus a small
// key/value table for sync watermarks. It stands in for the host platform's
// config-entry persistence.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite state database at dir/stridesync.db.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "stridesync.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS oauth_token (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at    INTEGER NOT NULL,
			updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating state tables: %w", err)
		}
	}

	return &DB{db: db}, nil
}

// SaveToken replaces the stored token triple as a whole.
func (s *DB) SaveToken(tok fitbit.Token) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO oauth_token (id, access_token, refresh_token, expires_at)
		 VALUES (1, ?, ?, ?)`,
		tok.AccessToken, tok.RefreshToken, tok.ExpiresAt.Unix(),
	)
	return err
}

// LoadToken returns the stored token; ok is false when none has been saved.
func (s *DB) LoadToken() (tok fitbit.Token, ok bool, err error) {
	var access, refresh string
	var exp int64
	err = s.db.QueryRow(
		`SELECT access_token, refresh_token, expires_at FROM oauth_token WHERE id = 1`,
	).Scan(&access, &refresh, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return fitbit.Token{}, false, nil
	}
	if err != nil {
		return fitbit.Token{}, false, err
	}
	return fitbit.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Unix(exp, 0),
	}, true, nil
}

// GetSyncState returns the value for key, or empty string when unset.
func (s *DB) GetSyncState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSyncState stores or overwrites the value for key.
func (s *DB) SetSyncState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)`,
		key, value,
	)
	return err
}

// SaveLastSync records the last successful sync time.
func (s *DB) SaveLastSync(ts time.Time) error {
	return s.SetSyncState(lastSyncKey, ts.Format(time.RFC3339))
}

// LoadLastSync returns the last successful sync time, zero when none.
func (s *DB) LoadLastSync() (time.Time, error) {
	v, err := s.GetSyncState(lastSyncKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// Close closes the state database.
func (s *DB) Close() error {
	return s.db.Close()
}
