package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    repo_locator TEXT NOT NULL,
    doc_locator  TEXT NOT NULL,
    status       TEXT NOT NULL,
    exit_code    INTEGER NOT NULL,
    passed       INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    unassessed   INTEGER NOT NULL,
    outcome      BLOB NOT NULL,
    started_at   DATETIME NOT NULL,
    finished_at  DATETIME NOT NULL
)`

const createRunsIndex = `CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at DESC)`

const summaryColumns = `id, repo_locator, doc_locator, status, exit_code, passed, failed, unassessed, started_at, finished_at`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and creates the schema.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createRunsTable,
		createRunsIndex,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize database: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, out *audit.Outcome) error {
	if out == nil || out.RunID == "" {
		return errors.New("save run: outcome has no run id")
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	sum := out.Summary()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (
			id, repo_locator, doc_locator, status, exit_code,
			passed, failed, unassessed, outcome, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.RunID, out.Inputs.RepoLocator, out.Inputs.DocLocator, string(out.Status), audit.ExitCode(out, nil),
		len(sum.Passed), len(sum.Failed), len(sum.Unassessed), blob,
		out.StartedAt.UTC(), out.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*audit.Outcome, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM runs WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var out audit.Outcome
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &out, nil
}

// ListRuns returns a page of runs ordered by start time, newest first, along
// with the total number of stored runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var status string
		if err := rows.Scan(&r.ID, &r.RepoLocator, &r.DocLocator, &status, &r.ExitCode,
			&r.Passed, &r.Failed, &r.Unassessed, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		r.Status = domain.RunStatus(status)
		r.StartedAt, r.FinishedAt = r.StartedAt.UTC(), r.FinishedAt.UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, total, nil
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
