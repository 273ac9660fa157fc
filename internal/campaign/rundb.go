package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
)

// Run is one evaluation of the model at a collocation point.
type Run struct {
	ID       int64
	Key      string
	Params   map[string]float64
	Status   RunStatus
	Values   map[string][]float64
	Error    string
	Dir      string
	Started  time.Time
	Finished time.Time
}

// RunDB records every run of a campaign. Completed runs double as an
// evaluation cache keyed by point, so a restarted campaign never repeats a
// finished simulation.
type RunDB struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	point_key TEXT NOT NULL UNIQUE,
	params TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	error TEXT,
	run_dir TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// OpenRunDB opens or creates the run database at path. Use ":memory:" for a
// throwaway database.
func OpenRunDB(ctx context.Context, path string) (*RunDB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &RunDB{db: db}, nil
}

func (r *RunDB) Close() error {
	return r.db.Close()
}

// Cached returns the values of a completed run at key.
func (r *RunDB) Cached(ctx context.Context, key string) (map[string][]float64, bool, error) {
	var result sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT result FROM runs WHERE point_key = ? AND status = ?`, key, StatusComplete,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query run %s: %w", key, err)
	}
	var values map[string][]float64
	if err := json.Unmarshal([]byte(result.String), &values); err != nil {
		return nil, false, fmt.Errorf("run %s: corrupt result: %w", key, err)
	}
	return values, true, nil
}

// Start records a run as running, replacing any earlier failed attempt, and
// returns its ID.
func (r *RunDB) Start(ctx context.Context, key string, params map[string]float64) (int64, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (point_key, params, status, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(point_key) DO UPDATE SET
			params = excluded.params,
			status = excluded.status,
			result = NULL,
			error = NULL,
			started_at = excluded.started_at,
			finished_at = NULL`,
		key, string(data), StatusRunning, now)
	if err != nil {
		return 0, fmt.Errorf("failed to start run %s: %w", key, err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT id FROM runs WHERE point_key = ?`, key).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

func (r *RunDB) SetDir(ctx context.Context, key, dir string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE runs SET run_dir = ? WHERE point_key = ?`, dir, key)
	return err
}

func (r *RunDB) Complete(ctx context.Context, key string, values map[string][]float64) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return r.finish(ctx, key, StatusComplete, sql.NullString{String: string(data), Valid: true}, sql.NullString{})
}

func (r *RunDB) Fail(ctx context.Context, key string, runErr error) error {
	return r.finish(ctx, key, StatusFailed, sql.NullString{}, sql.NullString{String: runErr.Error(), Valid: true})
}

func (r *RunDB) finish(ctx context.Context, key string, status RunStatus, result, errText sql.NullString) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, error = ?, finished_at = ? WHERE point_key = ?`,
		status, result, errText, now, key)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s was never started", key)
	}
	return nil
}

// Runs lists runs in start order, optionally filtered by status.
func (r *RunDB) Runs(ctx context.Context, status RunStatus) ([]Run, error) {
	query := `SELECT id, point_key, params, status, result, error, run_dir, started_at, finished_at FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run             Run
			params          string
			result, errText sql.NullString
			dir             sql.NullString
			started         string
			finished        sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Key, &params, &run.Status, &result, &errText, &dir, &started, &finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
			return nil, fmt.Errorf("run %s: corrupt params: %w", run.Key, err)
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &run.Values); err != nil {
				return nil, fmt.Errorf("run %s: corrupt result: %w", run.Key, err)
			}
		}
		run.Error = errText.String
		run.Dir = dir.String
		run.Started, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			run.Finished, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
