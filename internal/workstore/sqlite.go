package workstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is the mattn/go-sqlite3 driver; it requires cgo.
	DriverCGO = "sqlite3"
)

// SQLiteStore is a WorkStore backed by an SQLite database file, so agent
// status and counters can be inspected from another process (cadre status).
type SQLiteStore struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// DefaultPath returns the project-local store path.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".cadre", "workstore.db")
}

// OpenSQLite opens (and migrates) an SQLite store at path using the named
// driver. An empty driver selects DriverModernc.
func OpenSQLite(path, driver string) (*SQLiteStore, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Enable WAL mode for concurrent readers
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// SetClock replaces the store's time source (used by tests).
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1KV},
		{2, migrationV2Sets},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1KV = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
`

const migrationV2Sets = `
CREATE TABLE IF NOT EXISTS set_members (
	set_key TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (set_key, member)
);
`

// transaction runs fn inside a transaction while holding the write lock.
func (s *SQLiteStore) transaction(fn func(tx *sql.Tx, now int64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx, s.now().UnixNano()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) nowNano() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().UnixNano()
}

// Get returns the value stored at key.
func (s *SQLiteStore) Get(key string) (string, error) {
	now := s.nowNano()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.conn.QueryRow(`
		SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, now).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value at key with the given ttl.
func (s *SQLiteStore) Set(key, value string, ttl time.Duration) error {
	return s.transaction(func(tx *sql.Tx, now int64) error {
		var expires any
		if ttl > 0 {
			expires = now + int64(ttl)
		}
		_, err := tx.Exec(`
			INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, key, value, expires)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes key and any set stored under the same name.
func (s *SQLiteStore) Delete(key string) error {
	return s.transaction(func(tx *sql.Tx, _ int64) error {
		if _, err := tx.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		if _, err := tx.Exec("DELETE FROM set_members WHERE set_key = ?", key); err != nil {
			return fmt.Errorf("delete set %s: %w", key, err)
		}
		return nil
	})
}

// AddToSet adds members to the set at key.
func (s *SQLiteStore) AddToSet(key string, members ...string) error {
	return s.transaction(func(tx *sql.Tx, _ int64) error {
		for _, m := range members {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO set_members (set_key, member) VALUES (?, ?)
			`, key, m); err != nil {
				return fmt.Errorf("add %s to %s: %w", m, key, err)
			}
		}
		return nil
	})
}

// RemoveFromSet removes members from the set at key.
func (s *SQLiteStore) RemoveFromSet(key string, members ...string) error {
	return s.transaction(func(tx *sql.Tx, _ int64) error {
		for _, m := range members {
			if _, err := tx.Exec(`
				DELETE FROM set_members WHERE set_key = ? AND member = ?
			`, key, m); err != nil {
				return fmt.Errorf("remove %s from %s: %w", m, key, err)
			}
		}
		return nil
	})
}

// Members returns the sorted members of the set at key.
func (s *SQLiteStore) Members(key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT member FROM set_members WHERE set_key = ? ORDER BY member
	`, key)
	if err != nil {
		return nil, fmt.Errorf("members %s: %w", key, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Increment atomically adds n to the counter at key. The read-modify-write
// runs in one transaction under the store's write lock.
func (s *SQLiteStore) Increment(key string, n int64) (int64, error) {
	var result int64
	err := s.transaction(func(tx *sql.Tx, now int64) error {
		var raw string
		var expires sql.NullInt64
		err := tx.QueryRow(`
			SELECT value, expires_at FROM kv WHERE key = ?
		`, key).Scan(&raw, &expires)

		var cur int64
		switch {
		case errors.Is(err, sql.ErrNoRows):
			expires = sql.NullInt64{}
		case err != nil:
			return fmt.Errorf("increment %s: %w", key, err)
		case expires.Valid && expires.Int64 <= now:
			// Expired counters restart from zero without a TTL.
			expires = sql.NullInt64{}
		default:
			v, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				return fmt.Errorf("increment %s: %w", key, ErrNotInteger)
			}
			cur = v
		}

		result = cur + n
		var exp any
		if expires.Valid {
			exp = expires.Int64
		}
		_, err = tx.Exec(`
			INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, key, strconv.FormatInt(result, 10), exp)
		if err != nil {
			return fmt.Errorf("increment %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// TTL returns the remaining lifetime of key.
func (s *SQLiteStore) TTL(key string) (time.Duration, error) {
	now := s.nowNano()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var expires sql.NullInt64
	err := s.conn.QueryRow(`
		SELECT expires_at FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, now).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if !expires.Valid {
		return NoExpiry, nil
	}
	return time.Duration(expires.Int64 - now), nil
}

// Expire sets a new ttl on key; ttl <= 0 removes the expiry.
func (s *SQLiteStore) Expire(key string, ttl time.Duration) error {
	return s.transaction(func(tx *sql.Tx, now int64) error {
		var expires any
		if ttl > 0 {
			expires = now + int64(ttl)
		}
		res, err := tx.Exec(`
			UPDATE kv SET expires_at = ? WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
		`, expires, key, now)
		if err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// PurgeExpired deletes expired keys and returns how many were removed.
func (s *SQLiteStore) PurgeExpired() (int64, error) {
	var count int64
	err := s.transaction(func(tx *sql.Tx, now int64) error {
		res, err := tx.Exec("DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
		if err != nil {
			return fmt.Errorf("purge expired: %w", err)
		}
		count, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return count, err
}
