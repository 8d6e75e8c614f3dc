package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore backs the input cache and run index with SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

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

// Init initializes the database connection and enables WAL mode.
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

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
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

// Migrate runs database migrations.
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

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// PutInputs caches the resolved inputs for a phase.
func (s *SQLiteStore) PutInputs(ctx context.Context, series, version, phaseID string, inputs map[string]string) error {
	data, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}

	query := `
		INSERT INTO input_cache (series, version, phase_id, inputs, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(series, version, phase_id) DO UPDATE SET
			inputs = excluded.inputs,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, series, version, phaseID, string(data)); err != nil {
		return fmt.Errorf("failed to cache inputs: %w", err)
	}
	return nil
}

// GetInputs returns the cached inputs for a phase, if any.
func (s *SQLiteStore) GetInputs(ctx context.Context, series, version, phaseID string) (map[string]string, bool, error) {
	query := `
		SELECT inputs
		FROM input_cache
		WHERE series = ? AND version = ? AND phase_id = ?
	`

	var data string
	err := s.db.QueryRowContext(ctx, query, series, version, phaseID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached inputs: %w", err)
	}

	inputs := make(map[string]string)
	if err := json.Unmarshal([]byte(data), &inputs); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached inputs: %w", err)
	}
	return inputs, true, nil
}

// PutPhaseState records the fingerprint of a phase's last successful
// execution.
func (s *SQLiteStore) PutPhaseState(ctx context.Context, state *PhaseState) error {
	query := `
		INSERT INTO phase_state (series, version, phase_id, instruction_hash, inputs_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(series, version, phase_id) DO UPDATE SET
			instruction_hash = excluded.instruction_hash,
			inputs_hash = excluded.inputs_hash,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		state.Series,
		state.Version,
		state.PhaseID,
		state.InstructionHash,
		state.InputsHash,
	)
	if err != nil {
		return fmt.Errorf("failed to record phase state: %w", err)
	}
	return nil
}

// GetPhaseState returns the recorded fingerprint for a phase, if any.
func (s *SQLiteStore) GetPhaseState(ctx context.Context, series, version, phaseID string) (*PhaseState, error) {
	query := `
		SELECT series, version, phase_id, instruction_hash, inputs_hash, updated_at
		FROM phase_state
		WHERE series = ? AND version = ? AND phase_id = ?
	`

	state := &PhaseState{}
	err := s.db.QueryRowContext(ctx, query, series, version, phaseID).Scan(
		&state.Series,
		&state.Version,
		&state.PhaseID,
		&state.InstructionHash,
		&state.InputsHash,
		&state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get phase state: %w", err)
	}
	return state, nil
}

// CreateRun indexes a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, series, version, command, agent, status, log_path, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Series,
		run.Version,
		run.Command,
		run.Agent,
		run.Status,
		run.LogPath,
		run.Error,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, series, version, command, agent, status, log_path, error, started_at, completed_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Series,
		&run.Version,
		&run.Command,
		&run.Agent,
		&run.Status,
		&run.LogPath,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run terminal, recording the log path and error.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, logPath string, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, log_path = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, logPath, errMsg, &now, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns lists indexed runs, newest first, optionally filtered by
// series.
func (s *SQLiteStore) ListRuns(ctx context.Context, series string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, series, version, command, agent, status, log_path, error, started_at, completed_at
		FROM runs
		WHERE (? = '' OR series = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, series, series, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Series,
			&run.Version,
			&run.Command,
			&run.Agent,
			&run.Status,
			&run.LogPath,
			&run.Error,
			&run.StartedAt,
			&run.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
