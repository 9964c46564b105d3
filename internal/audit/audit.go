// Package audit keeps a local record of message traffic and lifecycle
// actions in an embedded SQLite database. Auditing is best effort: a
// broken database never interferes with serving.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry kinds.
const (
	KindMessage   = "message"
	KindResponse  = "response"
	KindStop      = "stop"
	KindInterrupt = "interrupt"
	KindResume    = "resume"
	KindKill      = "kill"
	KindError     = "error"
	KindBlocked   = "blocked"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT NOT NULL,
	sender     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at);
`

// Entry is one recorded action.
type Entry struct {
	ID        int64
	At        time.Time
	Sender    string
	Kind      string
	SessionID string
	Detail    string
}

// Log writes entries to a SQLite file.
type Log struct {
	db *sql.DB
}

// Open creates or opens the audit database at path and ensures the
// schema exists.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	// A single writer keeps SQLite happy without WAL tuning.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends an entry. Failures are logged and swallowed; auditing
// must never break message handling. Safe to call on a nil Log.
func (l *Log) Record(sender, kind, sessionID, detail string) {
	if l == nil || l.db == nil {
		return
	}
	const maxDetail = 500
	if len(detail) > maxDetail {
		detail = detail[:maxDetail]
	}
	_, err := l.db.Exec(
		`INSERT INTO audit_log (at, sender, kind, session_id, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), sender, kind, sessionID, detail,
	)
	if err != nil {
		log.Printf("⚠️  failed to write audit entry: %v", err)
	}
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		`SELECT id, at, sender, kind, session_id, detail FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Sender, &e.Kind, &e.SessionID, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
