// Package store provides storage backends for SmartAgentSurvey run results.
//
// This file implements an SQLite-backed store for execution runs.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveRun(r RunRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO execution_runs (batch_id, run_index, answers, errors, stopped, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.RunIndex, r.AnswersJSON, r.ErrorsJSON, r.Stopped, created)
	if err != nil {
		slog.Error("SQLiteStore SaveRun failed", "error", err, "batch_id", r.BatchID, "run", r.RunIndex)
		return fmt.Errorf("failed to insert run %d of batch %s: %w", r.RunIndex, r.BatchID, err)
	}
	slog.Debug("SQLiteStore SaveRun succeeded", "batch_id", r.BatchID, "run", r.RunIndex)
	return nil
}

func (s *SQLiteStore) GetRuns(batchID string) ([]RunRecord, error) {
	rows, err := s.db.Query(`SELECT batch_id, run_index, answers, errors, stopped, created_at FROM execution_runs WHERE batch_id = ? ORDER BY run_index`, batchID)
	if err != nil {
		slog.Error("SQLiteStore GetRuns query failed", "error", err, "batch_id", batchID)
		return nil, fmt.Errorf("failed to query runs for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.BatchID, &r.RunIndex, &r.AnswersJSON, &r.ErrorsJSON, &r.Stopped, &r.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetRuns scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetRuns rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	slog.Debug("SQLiteStore GetRuns succeeded", "batch_id", batchID, "count", len(runs))
	return runs, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
