package pidstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for a udid
var ErrNotFound = errors.New("no pid record for udid")

// Record is one durable companion pid entry, keyed by udid
type Record struct {
	Udid       string
	Pid        int
	RecordedAt time.Time
}

// Store persists companion pid records in SQLite so concurrent spawns
// for different devices can append safely and a later process management
// pass can find what was left running.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the pid record database at the specified path
func Open(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode for concurrent spawners, busy timeout instead of
	// immediate SQLITE_BUSY errors. Pragmas go in the DSN so every
	// connection in the database/sql pool gets them, not just one.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		conn: conn,
		path: path,
	}

	if err := store.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		// Checkpoint the WAL so all records land in the main database file
		s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.conn.Close()
	}
	return nil
}

// initSchema creates the database tables if they don't exist
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companion_pids (
		udid TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_companion_pids_recorded_at ON companion_pids(recorded_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Record writes (or replaces) the pid record for a udid. Spawning a new
// companion for a device supersedes whatever ran before it.
func (s *Store) Record(ctx context.Context, udid string, pid int) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO companion_pids (udid, pid, recorded_at) VALUES (?, ?, ?)
		 ON CONFLICT(udid) DO UPDATE SET pid = excluded.pid, recorded_at = excluded.recorded_at`,
		udid, pid, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record pid: %w", err)
	}
	return nil
}

// Lookup returns the record for a udid, or ErrNotFound
func (s *Store) Lookup(ctx context.Context, udid string) (Record, error) {
	var rec Record
	err := s.conn.QueryRowContext(ctx,
		`SELECT udid, pid, recorded_at FROM companion_pids WHERE udid = ?`,
		udid,
	).Scan(&rec.Udid, &rec.Pid, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, udid)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to look up pid record: %w", err)
	}
	return rec, nil
}

// List returns all pid records, most recent first
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT udid, pid, recorded_at FROM companion_pids ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pid records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Udid, &rec.Pid, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pid record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Remove deletes the record for a udid. Removing a udid with no record
// is not an error.
func (s *Store) Remove(ctx context.Context, udid string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM companion_pids WHERE udid = ?`, udid)
	if err != nil {
		return fmt.Errorf("failed to remove pid record: %w", err)
	}
	return nil
}
