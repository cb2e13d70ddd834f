// Package eventlog records the structured events the worker and navigation
// machine emit, one row per (user, action) occurrence. The log is capped:
// old rows are pruned so the table never grows past a configured size.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	extra TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// Event is one recorded occurrence. UserID is empty for worker-level events.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result,omitempty"`
	Message   string         `json:"message,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Fields carries the optional parts of an event.
type Fields struct {
	Result  string
	Message string
	Extra   map[string]any
}

// Logger writes events to SQLite. Recording never fails the caller: storage
// errors are logged and swallowed, since losing an event must not break a
// polling cycle.
type Logger struct {
	db  *sql.DB
	max int
	log *slog.Logger
	now func() time.Time
}

// Open opens (or creates) the event database in dataDir. Pass ":memory:" for
// an in-memory log (used by tests). maxEntries caps the table size; <= 0
// means 1000.
func Open(dataDir string, maxEntries int, log *slog.Logger) (*Logger, error) {
	if log == nil {
		log = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "events.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening event database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging event database: %w", err)
	}

	// Single connection avoids "database is locked" under the API reader.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Logger{db: db, max: maxEntries, log: log, now: time.Now}, nil
}

// Close closes the underlying database.
func (l *Logger) Close() error {
	return l.db.Close()
}

// Log records an event. userID may be empty for process-level events.
func (l *Logger) Log(userID, action string, f Fields) {
	var extra string
	if len(f.Extra) > 0 {
		if b, err := json.Marshal(f.Extra); err == nil {
			extra = string(b)
		}
	}

	_, err := l.db.Exec(
		"INSERT INTO events (ts, user_id, action, result, message, extra) VALUES (?, ?, ?, ?, ?, ?)",
		l.now().UTC(), userID, action, f.Result, f.Message, extra,
	)
	if err != nil {
		l.log.Warn("could not record event", "action", action, "error", err)
		return
	}

	l.prune()
}

// prune trims the table down to the newest max entries.
func (l *Logger) prune() {
	_, err := l.db.Exec(
		"DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)",
		l.max,
	)
	if err != nil {
		l.log.Warn("could not prune event log", "error", err)
	}
}

// Recent returns up to limit events, newest first.
func (l *Logger) Recent(limit int) ([]Event, error) {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}

	rows, err := l.db.Query(
		"SELECT id, ts, user_id, action, result, message, extra FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var extra string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Result, &e.Message, &extra); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if extra != "" {
			_ = json.Unmarshal([]byte(extra), &e.Extra)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
