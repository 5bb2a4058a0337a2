package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one processed job outcome.
type Entry struct {
	ID       string
	Status   string
	Error    string
	Duration time.Duration
	Created  time.Time
}

// Store is a SQLite-backed job journal. It exists for post-mortems on a
// worker that crashed or produced bad results: the queue only keeps
// in-flight state, the journal keeps history.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewStore opens (or creates) the journal database and applies migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Record upserts a job outcome. Requeued jobs overwrite their earlier row so
// the journal reflects the final state.
func (s *Store) Record(ctx context.Context, e Entry) error {
	created := e.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status,
		                               error = excluded.error,
		                               duration_ms = excluded.duration_ms`,
		e.ID, e.Status, e.Error, e.Duration.Milliseconds(), created.Unix())
	if err != nil {
		return fmt.Errorf("record job %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest n entries.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, error, duration_ms, created_at FROM jobs
		 ORDER BY created_at DESC, id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms, created int64
		if err := rows.Scan(&e.ID, &e.Status, &e.Error, &ms, &created); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.Created = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
