// Package recorder persists simulator runs to SQLite so they can be listed
// and replayed later.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
)

// Recorder stores runs and their events.
type Recorder struct {
	db *sql.DB
}

// Run is one recorded simulator run.
type Run struct {
	StartedAt time.Time
	EndedAt   *time.Time
	ExitCode  *int32
	ID        string
	Program   string
	Result    string
	Events    int
}

// Open opens or creates the database at path.
func Open(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

func (r *Recorder) migrate() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		program TEXT NOT NULL,
		result TEXT,
		exit_code INTEGER,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		time_ms INTEGER NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	`)
	return err
}

// Session records the events of one run.
type Session struct {
	rec    *Recorder
	ctx    context.Context
	runID  string
	events int
}

// Begin starts recording a run. An empty runID gets a fresh UUID. The
// session outlives cancellation of ctx, so the events a cancelled run
// publishes while it shuts down are still recorded.
func (r *Recorder) Begin(ctx context.Context, runID, program string) (*Session, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, program, started_at) VALUES (?, ?, ?)`,
		runID, program, time.Now().UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRecord, errors.KindInvalidInput, err, "insert run "+runID)
	}
	Logger().Debug("recording run", zap.String("run", runID), zap.String("program", program))
	return &Session{rec: r, ctx: context.WithoutCancel(ctx), runID: runID}, nil
}

// RunID is the id the session records under.
func (s *Session) RunID() string { return s.runID }

// Record stores one event. Its signature fits event.Bus.Consume.
func (s *Session) Record(ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	_, err = s.rec.db.ExecContext(s.ctx,
		`INSERT INTO events (run_id, seq, time_ms, type, payload) VALUES (?, ?, ?, ?, ?)`,
		s.runID, ev.Seq, ev.TimeMs, string(ev.Type), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}
	s.events++
	return nil
}

// End marks the run finished.
func (s *Session) End(result string, exitCode *int32) error {
	var code sql.NullInt32
	if exitCode != nil {
		code = sql.NullInt32{Int32: *exitCode, Valid: true}
	}
	_, err := s.rec.db.ExecContext(s.ctx,
		`UPDATE runs SET result = ?, exit_code = ?, ended_at = ? WHERE id = ?`,
		result, code, time.Now().UTC(), s.runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", s.runID, err)
	}
	Logger().Debug("recorded run", zap.String("run", s.runID), zap.Int("events", s.events))
	return nil
}

// Runs lists recorded runs, newest first.
func (r *Recorder) Runs(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT r.id, r.program, r.result, r.exit_code, r.started_at, r.ended_at,
		(SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
	FROM runs r ORDER BY r.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run    Run
			result sql.NullString
			code   sql.NullInt32
			ended  sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Program, &result, &code, &run.StartedAt, &ended, &run.Events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Result = result.String
		if code.Valid {
			c := code.Int32
			run.ExitCode = &c
		}
		if ended.Valid {
			run.EndedAt = &ended.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Replay feeds a run's events to sink in sequence order.
func (r *Recorder) Replay(ctx context.Context, runID string, sink func(event.Event) error) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query run: %w", err)
	}
	if exists == 0 {
		return errors.NotFound(errors.PhaseRecord, "run", runID)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		ev, err := event.DecodeEvent([]byte(payload))
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := sink(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Events returns a run's events in order.
func (r *Recorder) Events(ctx context.Context, runID string) ([]event.Event, error) {
	var evs []event.Event
	err := r.Replay(ctx, runID, func(ev event.Event) error {
		evs = append(evs, ev)
		return nil
	})
	return evs, err
}
