package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openconveyor/conveyor/pkg/dispatch"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var (
	_ Store             = (*SQLiteStore)(nil)
	_ dispatch.Recorder = (*SQLiteStore)(nil)
)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordExecution persists one dispatch record.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec dispatch.ExecutionRecord) error {
	query := `
		INSERT INTO executions (module_id, request_id, status, error_code, attempts, duration_ms, environment, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	attempts := rec.Attempts
	if attempts < 1 {
		attempts = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ModuleID,
		rec.RequestID,
		rec.Status,
		rec.ErrorCode,
		attempts,
		rec.DurationMS,
		rec.Environment,
		rec.StartedAt.UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution record by request id.
func (s *SQLiteStore) GetExecution(ctx context.Context, requestID string) (*Execution, error) {
	query := `
		SELECT id, module_id, request_id, status, error_code, attempts, duration_ms, environment, started_at, created_at
		FROM executions
		WHERE request_id = ?
	`

	e := &Execution{}
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&e.ID,
		&e.ModuleID,
		&e.RequestID,
		&e.Status,
		&e.ErrorCode,
		&e.Attempts,
		&e.DurationMS,
		&e.Environment,
		&e.StartedAt,
		&e.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return e, nil
}

// ListExecutions lists execution records newest first with optional
// filters and pagination.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter, limit, offset int) ([]*Execution, error) {
	query := `
		SELECT id, module_id, request_id, status, error_code, attempts, duration_ms, environment, started_at, created_at
		FROM executions
		WHERE (? IS NULL OR module_id = ?)
		  AND (? IS NULL OR status = ?)
		  AND (? IS NULL OR environment = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.ModuleID, filter.ModuleID,
		filter.Status, filter.Status,
		filter.Environment, filter.Environment,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []*Execution{}
	for rows.Next() {
		e := &Execution{}
		err := rows.Scan(
			&e.ID,
			&e.ModuleID,
			&e.RequestID,
			&e.Status,
			&e.ErrorCode,
			&e.Attempts,
			&e.DurationMS,
			&e.Environment,
			&e.StartedAt,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// PruneExecutions deletes records started before the cutoff.
func (s *SQLiteStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM executions WHERE started_at < ?`

	result, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
