package driver

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// SQLiteKV KeyValueDB implementation on a local sqlite file. Used when the
// client runs without a redis server, typically in offline/mock mode.
type SQLiteKV struct {
	db *sql.DB
}

var _ KeyValueDB = &SQLiteKV{}

// NewSQLiteKV open (and initialize if needed) a sqlite backed store
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
	k          TEXT PRIMARY KEY,
	v          TEXT NOT NULL,
	expires_at INTEGER
)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteKV{db: db}, nil
}

// Get implement KeyValueDB
func (s *SQLiteKV) Get(key string) (string, error) {
	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT v, expires_at FROM kv WHERE k = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	if expiresAt.Valid && expiresAt.Int64 <= time.Now().Unix() {
		s.Del(key)
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set implement KeyValueDB
func (s *SQLiteKV) Set(key string, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv(k, v, expires_at) VALUES(?, ?, NULL)
ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`, key, value)
	return err
}

// SetEX implement KeyValueDB
func (s *SQLiteKV) SetEX(key string, value string, expiration time.Duration) error {
	expiresAt := time.Now().Add(expiration).Unix()
	_, err := s.db.Exec(`INSERT INTO kv(k, v, expires_at) VALUES(?, ?, ?)
ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`, key, value, expiresAt)
	return err
}

// Del implement KeyValueDB
func (s *SQLiteKV) Del(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, key)
	return err
}

// Exists implement KeyValueDB
func (s *SQLiteKV) Exists(key string) (bool, error) {
	if _, err := s.Get(key); err == ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Ping implement KeyValueDB
func (s *SQLiteKV) Ping() error {
	return s.db.Ping()
}

// Close release the underlying file handle
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
