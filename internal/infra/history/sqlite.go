// Package history keeps a SQLite ledger of finished task runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/internal/infra/filestore"
	jsonx "warden/internal/shared/json"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so started_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Command is one command the run executed.
type Command struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
}

// Run is one ledger row.
type Run struct {
	ID           string
	Workspace    string
	Title        string
	Model        string
	Status       string
	Reason       string
	OK           bool
	Summary      string
	Turns        int
	FilesChanged []string
	Commands     []Command
	StartedAt    time.Time
	Duration     time.Duration
}

// Store is a SQLite-backed run ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := filestore.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from reporting SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return s, nil
}

func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			workspace TEXT NOT NULL,
			title TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			ok INTEGER NOT NULL,
			summary TEXT NOT NULL,
			turns INTEGER NOT NULL,
			files_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			command TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_run_id ON commands(run_id);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts a finished run and its commands in one transaction.
func (s *Store) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	files := run.FilesChanged
	if files == nil {
		files = []string{}
	}
	filesJSON, err := jsonx.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, workspace, title, model, status, reason, ok, summary, turns, files_json, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workspace, run.Title, run.Model, run.Status, run.Reason, boolToInt(run.OK),
		run.Summary, run.Turns, string(filesJSON), startedAt.UTC().Format(timeLayout), run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, cmd := range run.Commands {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO commands (run_id, seq, command, exit_code) VALUES (?, ?, ?, ?)`,
			run.ID, i, cmd.Command, cmd.ExitCode,
		); err != nil {
			return fmt.Errorf("insert command: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first, with their commands.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, workspace, title, model, status, reason, ok, summary, turns, files_json, started_at, duration_ms
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].Commands, err = s.commands(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, workspace, title, model, status, reason, ok, summary, turns, files_json, started_at, duration_ms
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	run.Commands, err = s.commands(ctx, runID)
	return run, err
}

func (s *Store) commands(ctx context.Context, runID string) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT command, exit_code FROM commands WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var cmd Command
		if err := rows.Scan(&cmd.Command, &cmd.ExitCode); err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run        Run
		ok         int
		filesJSON  string
		startedAt  string
		durationMs int64
	)
	if err := row.Scan(&run.ID, &run.Workspace, &run.Title, &run.Model, &run.Status, &run.Reason,
		&ok, &run.Summary, &run.Turns, &filesJSON, &startedAt, &durationMs); err != nil {
		return Run{}, err
	}
	run.OK = ok != 0
	run.Duration = time.Duration(durationMs) * time.Millisecond
	if err := jsonx.Unmarshal([]byte(filesJSON), &run.FilesChanged); err != nil {
		return Run{}, fmt.Errorf("decode files for %s: %w", run.ID, err)
	}
	ts, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at for %s: %w", run.ID, err)
	}
	run.StartedAt = ts
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
