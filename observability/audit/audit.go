// Package audit keeps an append-only SQLite trail of domain events and
// facade calls for operators.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"engagement/core/events"
)

// Record is one stored event.
type Record struct {
	ID           int64
	EventID      string
	Type         string
	Sequence     uint64
	EngagementID string
	OccurredAt   time.Time
	Attributes   map[string]string
}

// Call is one facade invocation.
type Call struct {
	Method    string
	Principal string
	Code      string
	Duration  time.Duration
	Timestamp time.Time
}

// SQLiteStore persists audit records with the pure-Go SQLite driver.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path. ":memory:"
// keeps the trail in process.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_id TEXT NOT NULL UNIQUE,
            type TEXT NOT NULL,
            sequence INTEGER NOT NULL,
            engagement_id TEXT,
            occurred_at TIMESTAMP NOT NULL,
            attributes BLOB NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS audit_events_engagement ON audit_events(engagement_id, sequence);`,
		`CREATE TABLE IF NOT EXISTS audit_calls (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL,
            method TEXT NOT NULL,
            principal TEXT,
            code TEXT,
            duration_ms INTEGER NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("audit: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HandleEvent stores a bus event. Replays of the same event id are ignored.
func (s *SQLiteStore) HandleEvent(ctx context.Context, evt events.Event) error {
	payload, ok := events.Payload(evt)
	if !ok {
		return nil
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return err
	}
	occurred := time.Unix(payload.Timestamp, 0).UTC()
	const stmt = `INSERT OR IGNORE INTO audit_events(event_id, type, sequence, engagement_id, occurred_at, attributes) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt, payload.ID, payload.Type, int64(payload.Sequence), payload.Attr("engagement_id"), occurred, attrs)
	return err
}

// RecordCall stores a facade invocation.
func (s *SQLiteStore) RecordCall(ctx context.Context, call Call) error {
	ts := call.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	const stmt = `INSERT INTO audit_calls(occurred_at, method, principal, code, duration_ms) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, ts, call.Method, call.Principal, call.Code, call.Duration.Milliseconds())
	return err
}

// EventsFor lists the stored events of an engagement in sequence order.
func (s *SQLiteStore) EventsFor(ctx context.Context, engagementID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, event_id, type, sequence, engagement_id, occurred_at, attributes FROM audit_events WHERE engagement_id = ? ORDER BY sequence, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, engagementID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec   Record
			seq   int64
			attrs []byte
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Type, &seq, &rec.EngagementID, &rec.OccurredAt, &attrs); err != nil {
			return nil, err
		}
		rec.Sequence = uint64(seq)
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("audit: decode attributes of %s: %w", rec.EventID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CallCount returns the number of recorded calls for method.
func (s *SQLiteStore) CallCount(ctx context.Context, method string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_calls WHERE method = ?`, method).Scan(&n)
	return n, err
}
