// Package history persists finished streaming and playback runs in SQLite.
package history

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

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/stats"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates a database written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Run kinds.
const (
	KindStream = "stream"
	KindPlay   = "play"
)

// Run is one finished pipeline or playback session.
type Run struct {
	ID        string
	Kind      string
	Outcome   events.State
	StartedAt time.Time
	Duration  time.Duration

	// Input and OutputDir are set for stream runs.
	Input     string
	OutputDir string

	// Target is the server URL (stream) or host (play).
	Target string

	Error  string
	Stages []Stage
}

// Stage is the persisted form of a stage result.
type Stage struct {
	Name     string
	State    events.State
	ExitCode int
	Duration time.Duration
	Error    string
}

// StageFromResult converts a stage result for persistence.
func StageFromResult(res events.StageResult) Stage {
	st := Stage{
		Name:     res.Stage,
		State:    res.State,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	return st
}

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
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
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
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
		return fmt.Errorf("write schema version: %w", err)
	}
	return tx.Commit()
}

// Record stores a finished run and its stages.
func (s *Store) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is empty")
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, kind, outcome, started_at, duration_ms, input, output_dir, target, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Kind, string(run.Outcome), run.StartedAt.UTC().Format(time.RFC3339Nano),
			run.Duration.Milliseconds(), run.Input, run.OutputDir, run.Target, run.Error,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for i, st := range run.Stages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stages (run_id, position, stage, state, exit_code, duration_ms, error)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				run.ID, i, st.Name, string(st.State), st.ExitCode, st.Duration.Milliseconds(), st.Error,
			); err != nil {
				return fmt.Errorf("insert stage %s: %w", st.Name, err)
			}
		}
		return tx.Commit()
	})
}

// List returns up to limit runs, newest first, with their stages.
// limit <= 0 returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, kind, outcome, started_at, duration_ms, input, output_dir, target, error
	          FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
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
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		stages, err := s.stages(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Stages = stages
	}
	return runs, nil
}

// Durations aggregates every recorded stage by name.
func (s *Store) Durations(ctx context.Context) (*stats.Durations, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT stage, state, duration_ms FROM stages")
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	d := stats.NewDurations()
	for rows.Next() {
		var (
			name, state string
			ms          int64
		)
		if err := rows.Scan(&name, &state, &ms); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		d.Add(name, events.State(state), time.Duration(ms)*time.Millisecond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return d, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return removed, nil
}

func (s *Store) stages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage, state, exit_code, duration_ms, error FROM stages WHERE run_id = ? ORDER BY position",
		runID)
	if err != nil {
		return nil, fmt.Errorf("list stages for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Stage
	for rows.Next() {
		var (
			st    Stage
			state string
			ms    int64
		)
		if err := rows.Scan(&st.Name, &state, &st.ExitCode, &ms, &st.Error); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.State = events.State(state)
		st.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run       Run
		outcome   string
		startedAt string
		ms        int64
	)
	if err := scanner.Scan(&run.ID, &run.Kind, &outcome, &startedAt, &ms,
		&run.Input, &run.OutputDir, &run.Target, &run.Error); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	run.Outcome = events.State(outcome)
	run.StartedAt = started
	run.Duration = time.Duration(ms) * time.Millisecond
	return run, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
