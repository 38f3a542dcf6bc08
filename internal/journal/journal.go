// Package journal keeps a SQLite ledger of every document pagebind builds.
//
// Each variant of each book produces one row per run: where the PDF landed,
// which merge tool and validator were used, its digest, and the failure
// outcome when the build did not complete. `pagebind journal list` reads it.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Status values recorded per document. Failures use services.FailureOutcome.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Entry is one ledger row.
type Entry struct {
	ID         int64
	RunID      string
	BatchID    string
	BookID     string
	Variant    string
	DPI        int
	OutputPath string
	Status     string
	Pages      int
	MergeTool  string
	Validator  string
	Digest     string
	SizeBytes  int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	BatchID string
	BookID  string
	Status  string
	Limit   int
}

// Store is the journal database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: journal has version %d, expected %d (move %s aside to start a new journal)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record appends an entry and returns its row id.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if strings.TrimSpace(e.BookID) == "" {
		return 0, errors.New("journal entry requires a book id")
	}
	if strings.TrimSpace(e.Status) == "" {
		return 0, errors.New("journal entry requires a status")
	}
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := e.StartedAt
	if started.IsZero() {
		started = finished
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (
            run_id, batch_id, book_id, variant, dpi, output_path, status, pages,
            merge_tool, validator, digest, size_bytes, error_message, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID,
		nullableString(e.BatchID),
		e.BookID,
		e.Variant,
		e.DPI,
		nullableString(e.OutputPath),
		e.Status,
		e.Pages,
		nullableString(e.MergeTool),
		nullableString(e.Validator),
		nullableString(e.Digest),
		e.SizeBytes,
		nullableString(e.Error),
		started.UTC().Format(time.RFC3339Nano),
		finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.BookID != "" {
		where = append(where, "book_id = ?")
		args = append(args, f.BookID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT id, run_id, batch_id, book_id, variant, dpi, output_path, status, pages,
        merge_tool, validator, digest, size_bytes, error_message, started_at, finished_at
        FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var batchID, output, tool, validator, digest, errMsg sql.NullString
	var started, finished string
	if err := rows.Scan(
		&e.ID, &e.RunID, &batchID, &e.BookID, &e.Variant, &e.DPI, &output, &e.Status, &e.Pages,
		&tool, &validator, &digest, &e.SizeBytes, &errMsg, &started, &finished,
	); err != nil {
		return Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	e.BatchID = batchID.String
	e.OutputPath = output.String
	e.MergeTool = tool.String
	e.Validator = validator.String
	e.Digest = digest.String
	e.Error = errMsg.String
	e.StartedAt = parseTime(started)
	e.FinishedAt = parseTime(finished)
	return e, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
