package compliance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const escalationsDDL = `
CREATE TABLE IF NOT EXISTS escalations (
    id         TEXT PRIMARY KEY,
    thread_id  TEXT NOT NULL,
    query      TEXT NOT NULL,
    draft      TEXT NOT NULL,
    issues     TEXT NOT NULL,
    digest     TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const insertEscalation = `
INSERT INTO escalations (id, thread_id, query, draft, issues, digest, created_at)
VALUES (:id, :thread_id, :query, :draft, :issues, :digest, :created_at)`

type escalationRow struct {
	Record
	IssuesJSON string `db:"issues"`
}

// SQLSink inserts escalations into the escalations table. The driver name
// given to sqlx decides the bind style (postgres or sqlite3).
type SQLSink struct {
	db *sqlx.DB
}

// NewSQLSink wraps an open database.
func NewSQLSink(db *sqlx.DB) *SQLSink {
	return &SQLSink{db: db}
}

// OpenSQLSink opens driver/dsn and ensures the table exists.
func OpenSQLSink(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// :memory: databases are per connection.
		db.SetMaxOpenConns(1)
	}
	s := NewSQLSink(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the escalations table when missing.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, escalationsDDL); err != nil {
		return fmt.Errorf("create escalations table: %w", err)
	}
	return nil
}

func (s *SQLSink) Append(ctx context.Context, rec Record) error {
	issues, err := json.Marshal(rec.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	row := escalationRow{Record: rec, IssuesJSON: string(issues)}
	if _, err := s.db.NamedExecContext(ctx, insertEscalation, row); err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLSink) Close() error { return s.db.Close() }
