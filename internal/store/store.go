// Package store persists completed captures so replayed portal calls can run
// without a browser.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/capture"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no usable session record exists.
var ErrNotFound = errors.New("session not found")

// Record is the durable projection of a logged-in capture.
type Record struct {
	SessionID   string                  `json:"sessionId"`
	Status      string                  `json:"status"`
	Cookies     []browser.Cookie        `json:"cookies"`
	Headers     map[string]string       `json:"headers"`
	Tokens      map[string]string       `json:"tokens"`
	Endpoints   capture.EndpointCatalog `json:"endpoints"`
	Requests    []capture.Request       `json:"networkRequests,omitempty"`
	ExpiresAt   time.Time               `json:"expiresAt"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

const schema = `
CREATE TABLE IF NOT EXISTS portal_sessions (
	session_id       TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	cookies          TEXT NOT NULL DEFAULT '[]',
	headers          TEXT NOT NULL DEFAULT '{}',
	tokens           TEXT NOT NULL DEFAULT '{}',
	endpoints        TEXT NOT NULL DEFAULT '{}',
	network_requests TEXT NOT NULL DEFAULT '[]',
	expires_at       TEXT NOT NULL,
	last_updated     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_portal_sessions_recency
	ON portal_sessions (status, last_updated DESC);
`

// timeLayout is RFC3339 with fixed-width fractional seconds, so the TEXT
// columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed session store. Writes are upserts keyed by
// session id, so concurrent writers resolve by last-write-wins.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (creating if needed) the store at path. ttl is the lifetime of
// a stored session counted from each write.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session store schema: %w", err)
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes or replaces the record for rec.SessionID, refreshing expiry and
// the last-updated timestamp. Retries are safe: same id, same final state.
func (s *Store) Put(ctx context.Context, rec Record) error {
	now := s.now().UTC()
	rec.LastUpdated = now
	rec.ExpiresAt = now.Add(s.ttl)

	cookies, err := json.Marshal(rec.Cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	tokens, err := json.Marshal(rec.Tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	endpoints, err := json.Marshal(rec.Endpoints)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	requests, err := json.Marshal(rec.Requests)
	if err != nil {
		return fmt.Errorf("encode request log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portal_sessions
		(session_id, status, cookies, headers, tokens, endpoints, network_requests, expires_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Status, string(cookies), string(headers), string(tokens),
		string(endpoints), string(requests),
		rec.ExpiresAt.Format(timeLayout), rec.LastUpdated.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("store session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Get returns the record for id if present and unexpired. An expired record
// is deleted on the way out and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, status, cookies, headers, tokens, endpoints, network_requests, expires_at, last_updated
		FROM portal_sessions WHERE session_id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	if rec.ExpiresAt.Before(s.now()) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE session_id = ?`, id); err != nil {
			return Record{}, fmt.Errorf("delete expired session %s: %w", id, err)
		}
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Latest returns the most recently updated unexpired logged_in record.
func (s *Store) Latest(ctx context.Context) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, status, cookies, headers, tokens, endpoints, network_requests, expires_at, last_updated
		FROM portal_sessions
		WHERE status = 'logged_in' AND expires_at > ?
		ORDER BY last_updated DESC LIMIT 1`,
		s.now().UTC().Format(timeLayout))

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// CleanupExpired bulk-deletes every expired record and reports the count.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE expires_at <= ?`,
		s.now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var cookies, headers, tokens, endpoints, requests, expiresAt, lastUpdated string

	if err := row.Scan(&rec.SessionID, &rec.Status, &cookies, &headers, &tokens,
		&endpoints, &requests, &expiresAt, &lastUpdated); err != nil {
		return Record{}, err
	}

	if err := json.Unmarshal([]byte(cookies), &rec.Cookies); err != nil {
		return Record{}, fmt.Errorf("decode cookies: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &rec.Headers); err != nil {
		return Record{}, fmt.Errorf("decode headers: %w", err)
	}
	if err := json.Unmarshal([]byte(tokens), &rec.Tokens); err != nil {
		return Record{}, fmt.Errorf("decode tokens: %w", err)
	}
	if err := json.Unmarshal([]byte(endpoints), &rec.Endpoints); err != nil {
		return Record{}, fmt.Errorf("decode endpoints: %w", err)
	}
	if err := json.Unmarshal([]byte(requests), &rec.Requests); err != nil {
		return Record{}, fmt.Errorf("decode request log: %w", err)
	}

	var err error
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return Record{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if rec.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return Record{}, fmt.Errorf("parse last_updated: %w", err)
	}
	return rec, nil
}
