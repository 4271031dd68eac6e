package archive

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists dead-letter records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite archive store.
// The path should be a file path (e.g., "./dlq.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			event_id TEXT NOT NULL PRIMARY KEY,
			event_type TEXT NOT NULL,
			lane TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			failed_at TEXT NOT NULL,
			body BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_failed_at
		ON dead_letters(failed_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Archive implements Store.
func (s *SQLiteStore) Archive(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO dead_letters (event_id, event_type, lane, retry_count, reason, failed_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			event_type = excluded.event_type,
			lane = excluded.lane,
			retry_count = excluded.retry_count,
			reason = excluded.reason,
			failed_at = excluded.failed_at,
			body = excluded.body
	`, rec.EventID, rec.EventType, rec.Lane, rec.RetryCount, rec.Reason,
		rec.FailedAt.UTC().Format(time.RFC3339Nano), rec.Body)

	if err != nil {
		return fmt.Errorf("archive record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(eventID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rec := &Record{EventID: eventID}
	var failedAt string
	err := s.db.QueryRow(`
		SELECT event_type, lane, retry_count, reason, failed_at, body
		FROM dead_letters WHERE event_id = ?
	`, eventID).Scan(&rec.EventType, &rec.Lane, &rec.RetryCount, &rec.Reason, &failedAt, &rec.Body)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	rec.FailedAt, _ = time.Parse(time.RFC3339Nano, failedAt)
	return rec, nil
}

// List implements Store.
func (s *SQLiteStore) List(limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT event_id, event_type, lane, retry_count, reason, failed_at, body
		FROM dead_letters ORDER BY failed_at`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var failedAt string
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.Lane, &rec.RetryCount,
			&rec.Reason, &failedAt, &rec.Body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.FailedAt, _ = time.Parse(time.RFC3339Nano, failedAt)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM dead_letters WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// PurgeOlderThan implements Store.
func (s *SQLiteStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.Exec(`DELETE FROM dead_letters WHERE failed_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return int(n), nil
}

// Count implements Store.
func (s *SQLiteStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
