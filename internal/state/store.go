// File: internal/state/store.go
// Brief: sqlite-backed run history.

// Package state records provisioning runs and their per-unit events in a
// local sqlite file, so `stackup runs` can answer what happened after
// the terminal scrollback is gone.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRelPath is the state file location relative to the working
// directory.
const DefaultRelPath = ".stackup/state.sqlite"

// Store wraps the sqlite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or opens) the state database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultRelPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: abs}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			outcome TEXT NOT NULL DEFAULT 'running'
		);`,
		`CREATE TABLE IF NOT EXISTS unit_events (
			run_id TEXT NOT NULL,
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			unit TEXT NOT NULL,
			state TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_unit_events_run ON unit_events(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, outcome) VALUES (?, ?, 'running')`,
		id, startedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun records the run outcome.
func (s *Store) FinishRun(ctx context.Context, id, outcome string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339), outcome, id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecordUnitEvent appends a state transition for a unit.
func (s *Store) RecordUnitEvent(ctx context.Context, runID, unit, st, detail string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unit_events (run_id, unit, state, detail, at) VALUES (?, ?, ?, ?, ?)`,
		runID, unit, st, detail, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record unit event: %w", err)
	}
	return nil
}

// RunRecord is one row of run history.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, COALESCE(finished_at, ''), outcome
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished string
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.Outcome); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			rec.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UnitEvent is one recorded unit transition.
type UnitEvent struct {
	Unit   string
	State  string
	Detail string
	At     time.Time
}

// UnitEvents returns the events of a run in order.
func (s *Store) UnitEvents(ctx context.Context, runID string) ([]UnitEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit, state, detail, at FROM unit_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list unit events: %w", err)
	}
	defer rows.Close()
	var out []UnitEvent
	for rows.Next() {
		var ev UnitEvent
		var at string
		if err := rows.Scan(&ev.Unit, &ev.State, &ev.Detail, &at); err != nil {
			return nil, err
		}
		ev.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}
