// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps a local history of experiment runs in a sqlite
// database so past parameter sets and outcomes can be listed later.
package ledger

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/jlwatson/certified-dp/pkg/experiment"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	db_size INTEGER NOT NULL,
	max_degree INTEGER NOT NULL,
	sparsity INTEGER NOT NULL,
	epsilon REAL NOT NULL,
	delta REAL NOT NULL,
	dimension INTEGER NOT NULL,
	num_queries INTEGER NOT NULL,
	db_file TEXT NOT NULL,
	census_query TEXT NOT NULL,
	prover_exit INTEGER NOT NULL,
	verifier_exit INTEGER NOT NULL,
	prover_duration_ms INTEGER NOT NULL,
	verifier_duration_ms INTEGER NOT NULL,
	prover_log TEXT NOT NULL,
	verifier_log TEXT NOT NULL,
	prover_lines INTEGER NOT NULL,
	verifier_lines INTEGER NOT NULL
);
`

// Entry is one recorded run.
type Entry struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	DBSize      uint64
	MaxDegree   uint64
	Sparsity    uint64
	Epsilon     float64
	Delta       float64
	Dimension   uint64
	NumQueries  int
	DBFile      string
	CensusQuery string

	ProverExit       int
	VerifierExit     int
	ProverDuration   time.Duration
	VerifierDuration time.Duration
	ProverLog        string
	VerifierLog      string
	ProverLines      int
	VerifierLines    int
}

type Ledger struct {
	db *sql.DB
}

// Open creates or opens the run history at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "initialize ledger %s", path)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores one finished run with the parameters that produced it.
func (l *Ledger) Record(cfg *experiment.Config, result *experiment.RunResult) error {
	_, err := l.db.Exec(
		`INSERT INTO runs (
			id, started_at, finished_at,
			db_size, max_degree, sparsity, epsilon, delta, dimension,
			num_queries, db_file, census_query,
			prover_exit, verifier_exit,
			prover_duration_ms, verifier_duration_ms,
			prover_log, verifier_log,
			prover_lines, verifier_lines
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.StartedAt, result.FinishedAt,
		cfg.DBSize, cfg.MaxDegree, cfg.Sparsity, cfg.Epsilon, cfg.Delta, cfg.Dimension,
		cfg.NumQueries, cfg.DBFile, cfg.CensusQuery,
		result.Prover.ExitCode, result.Verifier.ExitCode,
		result.Prover.Duration.Milliseconds(), result.Verifier.Duration.Milliseconds(),
		result.Prover.LogPath, result.Verifier.LogPath,
		result.Prover.DrainedLines, result.Verifier.DrainedLines,
	)
	return errors.Wrapf(err, "record run %s", result.ID)
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT
			id, started_at, finished_at,
			db_size, max_degree, sparsity, epsilon, delta, dimension,
			num_queries, db_file, census_query,
			prover_exit, verifier_exit,
			prover_duration_ms, verifier_duration_ms,
			prover_log, verifier_log,
			prover_lines, verifier_lines
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var proverMs, verifierMs int64
		if err := rows.Scan(
			&entry.ID, &entry.StartedAt, &entry.FinishedAt,
			&entry.DBSize, &entry.MaxDegree, &entry.Sparsity, &entry.Epsilon, &entry.Delta, &entry.Dimension,
			&entry.NumQueries, &entry.DBFile, &entry.CensusQuery,
			&entry.ProverExit, &entry.VerifierExit,
			&proverMs, &verifierMs,
			&entry.ProverLog, &entry.VerifierLog,
			&entry.ProverLines, &entry.VerifierLines,
		); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		entry.ProverDuration = time.Duration(proverMs) * time.Millisecond
		entry.VerifierDuration = time.Duration(verifierMs) * time.Millisecond
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
