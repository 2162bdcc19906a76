// Package experiment records training runs: per-update metric rows
// keyed by a run identifier, persisted to a local sqlite database so
// runs can be compared after the fact.
package experiment

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/agentzoo/agentzoo/agent"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	algorithm  TEXT NOT NULL,
	env        TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	step      INTEGER NOT NULL,
	name      TEXT NOT NULL,
	value     REAL NOT NULL,
	logged_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS metrics_run_step ON metrics(run_id, step);
`

// Tracker stores training metrics for one run.
type Tracker struct {
	db    *sql.DB
	log   zerolog.Logger
	runID string
}

// Open creates or opens the database at path and registers a new run
// for the given algorithm and environment names, returning a tracker
// bound to it.
func Open(path, algorithm, env string, log zerolog.Logger) (*Tracker,
	error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open run database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply run schema")
	}

	runID := uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO runs (id, algorithm, env, started_at) VALUES (?, ?, ?, ?)`,
		runID, algorithm, env, time.Now().UTC()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "register run")
	}

	log.Info().Str("run", runID).Str("algorithm", algorithm).
		Str("env", env).Msg("run registered")
	return &Tracker{db: db, log: log, runID: runID}, nil
}

// RunID returns the run identifier.
func (t *Tracker) RunID() string { return t.runID }

// LogRecord persists one training record at the given environment step
// and echoes it to the logger.
func (t *Tracker) LogRecord(step int, record agent.Record) error {
	tx, err := t.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin metric transaction")
	}
	now := time.Now().UTC()
	for name, value := range record {
		if _, err := tx.Exec(
			`INSERT INTO metrics (run_id, step, name, value, logged_at) VALUES (?, ?, ?, ?, ?)`,
			t.runID, step, name, value, now); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert metric")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit metric transaction")
	}

	ev := t.log.Info().Int("step", step)
	for name, value := range record {
		ev = ev.Float64(name, value)
	}
	ev.Msg("update")
	return nil
}

// History returns the stored values of one metric for this run in step
// order.
func (t *Tracker) History(name string) ([]float64, error) {
	rows, err := t.db.Query(
		`SELECT value FROM metrics WHERE run_id = ? AND name = ? ORDER BY step`,
		t.runID, name)
	if err != nil {
		return nil, errors.Wrap(err, "query metric history")
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan metric value")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (t *Tracker) Close() error { return t.db.Close() }
