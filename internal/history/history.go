// Package history keeps a SQLite ledger of narration outcomes.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/fileutil"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed schema.sql
var schemaFiles embed.FS

const (
	driverName   = "sqlite"
	memoryPath   = ":memory:"
	defaultLimit = 50
)

const (
	insertNarration = `INSERT INTO narrations
		(event_id, workflow_id, folder, name, provider, tier, url, chunks, bytes, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecent = `SELECT event_id, workflow_id, folder, name, provider, tier, url, chunks, bytes, error, created_at
		FROM narrations ORDER BY created_at DESC, id DESC LIMIT ?`
)

// ErrMissingEventID is returned when an entry carries no event id.
var ErrMissingEventID = errors.New("history entry requires an event id")

// Entry is one narration outcome. Error is empty for successful requests.
type Entry struct {
	EventID    string
	WorkflowID string
	Folder     string
	Name       string
	Provider   string
	Tier       string
	URL        string
	Chunks     int
	Bytes      int
	Error      string
	CreatedAt  time.Time
}

// Store wraps the SQLite ledger.
type Store struct {
	db *sql.DB
}

// Open opens, or creates, the ledger at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != memoryPath {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			err := fileutil.EnsureDir(dir)
			if err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes SQLite writes.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	err = store.migrate()
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) migrate() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		_, err := s.db.Exec(pragma)
		if err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFiles.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	_, err = s.db.Exec(string(schemaSQL))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Record appends entry. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.EventID) == "" {
		return ErrMissingEventID
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(
		ctx,
		insertNarration,
		entry.EventID,
		entry.WorkflowID,
		entry.Folder,
		entry.Name,
		entry.Provider,
		entry.Tier,
		entry.URL,
		entry.Chunks,
		entry.Bytes,
		entry.Error,
		entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record narration %s: %w", entry.EventID, err)
	}

	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit uses the
// default.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			entry     Entry
			createdAt int64
		)

		err = rows.Scan(
			&entry.EventID,
			&entry.WorkflowID,
			&entry.Folder,
			&entry.Name,
			&entry.Provider,
			&entry.Tier,
			&entry.URL,
			&entry.Chunks,
			&entry.Bytes,
			&entry.Error,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		entry.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
