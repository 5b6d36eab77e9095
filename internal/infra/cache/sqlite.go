package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"rss-mail-digest/internal/domain"
)

// SQLiteSeenSet хранит ключи в локальной SQLite базе.
type SQLiteSeenSet struct {
	conn *sql.DB
	now  func() time.Time
}

var _ domain.SeenSet = (*SQLiteSeenSet)(nil)

// OpenSQLite открывает или создаёт базу по пути.
func OpenSQLite(path string) (*SQLiteSeenSet, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS seen_items (
		key TEXT PRIMARY KEY,
		seen_at DATETIME NOT NULL
	)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteSeenSet{conn: conn, now: time.Now}, nil
}

// Close закрывает базу.
func (s *SQLiteSeenSet) Close() error {
	return s.conn.Close()
}

// MarkIfNew вставляет ключ и сообщает, был ли он новым.
func (s *SQLiteSeenSet) MarkIfNew(ctx context.Context, key string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `INSERT OR IGNORE INTO seen_items (key, seen_at) VALUES (?, ?)`, key, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Forget удаляет ключ.
func (s *SQLiteSeenSet) Forget(ctx context.Context, key string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM seen_items WHERE key = ?`, key)
	return err
}

// Prune удаляет ключи старше maxAge. maxAge <= 0 означает хранить ключи всегда.
func (s *SQLiteSeenSet) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	res, err := s.conn.ExecContext(ctx, `DELETE FROM seen_items WHERE seen_at < ?`, s.now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
