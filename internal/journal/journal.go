// Package journal records the outcome of every pipeline run in SQLite.
// If opening the DB or executing queries fails, entries are kept in memory.
package journal

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/whatsapp-relay/internal/logger"
)

// memoryLimit bounds the in-memory fallback.
const memoryLimit = 1000

// Entry is one pipeline run.
type Entry struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	MessageID string    `json:"message_id"`
	Outcome   string    `json:"outcome"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal persists entries, falling back to memory when SQLite is unavailable.
type Journal struct {
	db *sql.DB

	mu      sync.Mutex
	entries []Entry // in-memory fallback
}

// Open opens (and creates if needed) the journal database at path.
// An empty path or any database error yields a memory-only journal.
func Open(ctx context.Context, path string) *Journal {
	j := &Journal{}
	if path == "" {
		logger.L.Info("journal path not set; using in-memory journal")
		return j
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		logger.L.Warn("sqlite open failed; using in-memory journal", "error", err)
		return j
	}
	if _, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS deliveries (
        id TEXT PRIMARY KEY,
        sender TEXT NOT NULL,
        message_id TEXT NOT NULL,
        outcome TEXT NOT NULL,
        state TEXT NOT NULL,
        error TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL
    );`); err != nil {
		logger.L.Warn("sqlite table creation failed; using in-memory journal", "error", err)
		db.Close()
		return j
	}
	if _, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_deliveries_sender ON deliveries (sender, created_at);`); err != nil {
		logger.L.Warn("sqlite index creation failed", "error", err)
	}
	logger.L.Info("sqlite delivery journal initialized", "path", path)
	j.db = db
	return j
}

// Persistent reports whether entries reach SQLite.
func (j *Journal) Persistent() bool { return j.db != nil }

// Record stores e. It never fails; SQLite errors are logged and the entry
// is kept in memory instead.
func (j *Journal) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if j.db != nil {
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO deliveries (id, sender, message_id, outcome, state, error, created_at) VALUES (?,?,?,?,?,?,?);`,
			e.ID, e.Sender, e.MessageID, e.Outcome, e.State, e.Error, e.CreatedAt)
		if err == nil {
			return
		}
		logger.L.Error("failed to store delivery in sqlite; falling back to memory", "error", err)
	}

	j.mu.Lock()
	j.entries = append(j.entries, e)
	if over := len(j.entries) - memoryLimit; over > 0 {
		j.entries = j.entries[over:]
	}
	j.mu.Unlock()
}

// List returns the newest entries first, optionally filtered by sender.
func (j *Journal) List(ctx context.Context, sender string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	out := make([]Entry, 0, limit)

	// Fallback entries only exist once SQLite started failing, so they are
	// newer than anything in the table.
	j.mu.Lock()
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if sender == "" || j.entries[i].Sender == sender {
			out = append(out, j.entries[i])
		}
	}
	j.mu.Unlock()

	if j.db == nil || len(out) == limit {
		return out, nil
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, sender, message_id, outcome, state, error, created_at FROM deliveries
         WHERE (? = '' OR sender = ?) ORDER BY created_at DESC, rowid DESC LIMIT ?;`,
		sender, sender, limit-len(out))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Sender, &e.MessageID, &e.Outcome, &e.State, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}
