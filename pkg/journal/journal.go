// Package journal records bus events in SQLite so they can be inspected
// after the fact. Resource state is never restored from it.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	mashuperrors "github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/eventbus"
)

//go:embed schema.sql
var schemaSQL string

// ErrClosed indicates the journal has been closed.
var ErrClosed = errors.New("journal: closed")

// Entry is one recorded event.
type Entry struct {
	ID       string          `json:"id"`
	Recorded time.Time       `json:"recorded"`
	Subject  string          `json:"subject"`
	Name     string          `json:"name"`
	Sender   string          `json:"sender,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Kind is the first token of the event name.
func (e Entry) Kind() string {
	return eventbus.Kind(e.Name)
}

// Journal is a SQLite backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at dsn. ":memory:" keeps it in memory.
func Open(dsn string) (*Journal, error) {
	if filePath, onDisk := sqliteFilePathFromDSN(dsn); onDisk {
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Append records e. Missing ids and times are filled in.
func (j *Journal) Append(ctx context.Context, e Entry) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}
	if e.Name == "" {
		e.Name = e.Subject
	}
	payload := "null"
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, recorded, subject, name, kind, sender, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Recorded.UnixNano(), e.Subject, e.Name, e.Kind(), e.Sender, payload)
	if err != nil {
		return Entry{}, mashuperrors.Wrap(err, mashuperrors.ErrCodeInternal, "append journal entry").
			WithContext("name", e.Name).
			WithRetryable(isBusyError(err))
	}
	return e, nil
}

// Query filters Recent.
type Query struct {
	Limit int
	// Kind restricts entries to one event kind, e.g. "didUpdate".
	Kind string
	// Name restricts entries to one event name.
	Name string
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}

	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	query := "SELECT id, recorded, subject, name, sender, payload FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			recorded int64
			payload  string
		)
		if err := rows.Scan(&e.ID, &recorded, &e.Subject, &e.Name, &e.Sender, &payload); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Recorded = time.Unix(0, recorded).UTC()
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

// Prune deletes entries recorded before cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	res, err := j.db.ExecContext(ctx, "DELETE FROM events WHERE recorded < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" || path == ":memory:" || u.Query().Get("mode") == "memory" {
			return "", false
		}
		return path, true
	}
	return dsn, true
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
