package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/jelmore/jelmore/pkg/session"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	query            TEXT NOT NULL,
	provider_name    TEXT NOT NULL,
	process_handle   TEXT NOT NULL DEFAULT '',
	working_dir      TEXT NOT NULL DEFAULT '',
	output_buffer    TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '{}',
	error_detail     TEXT NOT NULL DEFAULT '',
	terminate_reason TEXT NOT NULL DEFAULT '',
	version          INTEGER NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	last_activity_at TIMESTAMP NOT NULL,
	terminated_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at);

CREATE TABLE IF NOT EXISTS session_events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id, created_at);
`

// SQLiteStore implements DurableStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("SQLite store opened")

	return &SQLiteStore{db: db}, nil
}

// UpsertSession writes the session, enforcing optimistic concurrency on
// the version column for existing rows.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *session.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, query = ?, provider_name = ?, process_handle = ?,
			working_dir = ?, output_buffer = ?, metadata = ?, error_detail = ?,
			terminate_reason = ?, version = ?, updated_at = ?, last_activity_at = ?,
			terminated_at = ?
		WHERE id = ? AND version = ?`,
		string(sess.Status), sess.Query, sess.ProviderName, sess.ProcessHandle,
		sess.WorkingDirectory, sess.OutputBuffer, string(meta), sess.ErrorDetail,
		sess.TerminateReason, sess.Version, sess.UpdatedAt, sess.LastActivityAt,
		sess.TerminatedAt,
		sess.ID, sess.Version-1,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// No row matched: either the session is new or the version moved.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, status, query, provider_name, process_handle, working_dir,
			output_buffer, metadata, error_detail, terminate_reason, version,
			created_at, updated_at, last_activity_at, terminated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Status), sess.Query, sess.ProviderName,
		sess.ProcessHandle, sess.WorkingDirectory, sess.OutputBuffer,
		string(meta), sess.ErrorDetail, sess.TerminateReason, sess.Version,
		sess.CreatedAt, sess.UpdatedAt, sess.LastActivityAt, sess.TerminatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("session %s at version %d: %w", sess.ID, sess.Version, ErrVersionConflict)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession reads one session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, query, provider_name, process_handle, working_dir,
		       output_buffer, metadata, error_detail, terminate_reason, version,
		       created_at, updated_at, last_activity_at, terminated_at
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return sess, nil
}

// QuerySessions returns sessions matching the filter, newest first.
func (s *SQLiteStore) QuerySessions(ctx context.Context, f Filter) ([]*session.Session, error) {
	var (
		where []string
		args  []any
	)

	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if f.Provider != "" {
		where = append(where, "provider_name = ?")
		args = append(args, f.Provider)
	}
	if !f.ActiveBefore.IsZero() {
		where = append(where, "last_activity_at < ?")
		args = append(args, f.ActiveBefore)
	}

	q := `SELECT id, status, query, provider_name, process_handle, working_dir,
	             output_buffer, metadata, error_detail, terminate_reason, version,
	             created_at, updated_at, last_activity_at, terminated_at
	      FROM sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// InsertEvent appends one immutable event row.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev session.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_events (id, session_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, string(ev.Type), string(payload), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// EventsForSession returns the ordered event history of one session.
func (s *SQLiteStore) EventsForSession(ctx context.Context, sessionID string, limit int) ([]session.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, type, payload, created_at
		FROM session_events WHERE session_id = ?
		ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []session.Event
	for rows.Next() {
		var (
			ev      session.Event
			typ     string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &typ, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = session.EventType(typ)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*session.Session, error) {
	var (
		sess   session.Session
		status string
		meta   string
		term   sql.NullTime
	)
	err := r.Scan(
		&sess.ID, &status, &sess.Query, &sess.ProviderName,
		&sess.ProcessHandle, &sess.WorkingDirectory, &sess.OutputBuffer,
		&meta, &sess.ErrorDetail, &sess.TerminateReason, &sess.Version,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.LastActivityAt, &term,
	)
	if err != nil {
		return nil, err
	}
	sess.Status = session.Status(status)
	if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if term.Valid {
		t := term.Time
		sess.TerminatedAt = &t
	}
	return &sess, nil
}
