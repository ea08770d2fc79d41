// Package store provides storage backends for SmartAgentSurvey run results.
//
// This file implements a PostgreSQL-backed store for execution runs.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the execution_runs table exists
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveRun(r RunRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO execution_runs (batch_id, run_index, answers, errors, stopped, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.BatchID, r.RunIndex, r.AnswersJSON, r.ErrorsJSON, r.Stopped, created)
	if err != nil {
		slog.Error("PostgresStore SaveRun failed", "error", err, "batch_id", r.BatchID, "run", r.RunIndex)
		return fmt.Errorf("failed to insert run %d of batch %s: %w", r.RunIndex, r.BatchID, err)
	}
	slog.Debug("PostgresStore SaveRun succeeded", "batch_id", r.BatchID, "run", r.RunIndex)
	return nil
}

func (s *PostgresStore) GetRuns(batchID string) ([]RunRecord, error) {
	rows, err := s.db.Query(`SELECT batch_id, run_index, answers, errors, stopped, created_at FROM execution_runs WHERE batch_id = $1 ORDER BY run_index`, batchID)
	if err != nil {
		slog.Error("PostgresStore GetRuns query failed", "error", err, "batch_id", batchID)
		return nil, fmt.Errorf("failed to query runs for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.BatchID, &r.RunIndex, &r.AnswersJSON, &r.ErrorsJSON, &r.Stopped, &r.CreatedAt); err != nil {
			slog.Error("PostgresStore GetRuns scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetRuns rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	slog.Debug("PostgresStore GetRuns succeeded", "batch_id", batchID, "count", len(runs))
	return runs, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
