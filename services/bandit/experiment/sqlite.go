// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps runs in a SQLite file, one row per result, so they can
// be queried with plain SQL.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		label       TEXT NOT NULL,
		variable    TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		meta        TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS results (
		run_id       TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		mode         TEXT    NOT NULL,
		sweep_value  REAL    NOT NULL,
		policy       TEXT    NOT NULL,
		mean_time    REAL    NOT NULL,
		optimal_rate REAL    NOT NULL,
		trials       INTEGER NOT NULL,
		pulls        INTEGER NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_results_policy ON results(policy, mode, sweep_value);
`

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts the run and its results in one transaction. Saving the same
// run twice replaces it.
func (s *SQLiteStore) Save(ctx context.Context, run *Run) (err error) {
	meta := *run
	meta.Results = nil
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range []string{`DELETE FROM results WHERE run_id = ?`, `DELETE FROM runs WHERE id = ?`} {
		if _, err = tx.ExecContext(ctx, q, run.ID); err != nil {
			return fmt.Errorf("sqlite: replace run: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, label, variable, started_at, finished_at, meta) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.Variable,
		run.StartedAt.Format(time.RFC3339Nano), run.FinishedAt.Format(time.RFC3339Nano),
		string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results
		(run_id, position, mode, sweep_value, policy, mean_time, optimal_rate, trials, pulls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for i, res := range run.Results {
		if _, err = stmt.ExecContext(ctx, run.ID, i, res.Mode, res.SweepValue, res.Policy,
			res.MeanTime, res.OptimalRate, res.Trials, res.Pulls); err != nil {
			return fmt.Errorf("sqlite: insert result %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Load reads a run back with its results in their original order.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Run, error) {
	var metaJSON string
	err := s.db.QueryRowContext(ctx, `SELECT meta FROM runs WHERE id = ?`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load run: %w", err)
	}

	var run Run
	if err := json.Unmarshal([]byte(metaJSON), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT mode, sweep_value, policy, mean_time, optimal_rate, trials, pulls
		FROM results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		res := Result{RunID: id}
		if err := rows.Scan(&res.Mode, &res.SweepValue, &res.Policy, &res.MeanTime,
			&res.OptimalRate, &res.Trials, &res.Pulls); err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		run.Results = append(run.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate results: %w", err)
	}
	return &run, nil
}

// BestPolicies returns, for every sweep value of mode, the policy with the
// lowest mean time.
func (s *SQLiteStore) BestPolicies(ctx context.Context, id, mode string) (map[float64]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sweep_value, policy FROM results r
		WHERE run_id = ? AND mode = ? AND mean_time = (
			SELECT MIN(mean_time) FROM results
			WHERE run_id = r.run_id AND mode = r.mode AND sweep_value = r.sweep_value
		)
		ORDER BY sweep_value, position`, id, mode)
	if err != nil {
		return nil, fmt.Errorf("sqlite: best policies: %w", err)
	}
	defer rows.Close()

	best := make(map[float64]string)
	for rows.Next() {
		var (
			v float64
			p string
		)
		if err := rows.Scan(&v, &p); err != nil {
			return nil, fmt.Errorf("sqlite: scan best policy: %w", err)
		}
		if _, ok := best[v]; !ok {
			best[v] = p
		}
	}
	return best, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
