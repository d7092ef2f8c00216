package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dev/bravebird/frontend-verify/pkg/models"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Schema is portable between MySQL and SQLite; timestamps are Unix milliseconds
var schema = []string{
	`CREATE TABLE IF NOT EXISTS verification_runs (
		id VARCHAR(36) PRIMARY KEY,
		plan_name VARCHAR(255) NOT NULL,
		temporal_workflow_id VARCHAR(255) NOT NULL,
		temporal_run_id VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL,
		error_message TEXT NOT NULL,
		screenshot_path TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		started_at BIGINT NOT NULL,
		completed_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS step_results (
		id VARCHAR(36) PRIMARY KEY,
		run_id VARCHAR(36) NOT NULL,
		sequence_id INT NOT NULL,
		step_type VARCHAR(32) NOT NULL,
		description TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		error_kind VARCHAR(64) NOT NULL,
		error_message TEXT NOT NULL,
		screenshot_path TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		executed_at BIGINT NOT NULL
	)`,
}

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection for the given driver
func New(driver, dsn string) (*DB, error) {
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if driver == DriverSQLite {
		// One connection keeps in-memory databases shared and writes serialized
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// ==================== Verification Runs ====================

// CreateRun inserts a new run
func (db *DB) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	query := `
		INSERT INTO verification_runs (id, plan_name, temporal_workflow_id, temporal_run_id, status,
		                               error_message, screenshot_path, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx, query,
		run.ID,
		run.PlanName,
		run.TemporalWorkflowID,
		run.TemporalRunID,
		run.Status,
		run.ErrorMessage,
		run.ScreenshotPath,
		toMillis(run.CreatedAt),
		toMillis(run.StartedAt),
		toMillis(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	query := `
		SELECT id, plan_name, temporal_workflow_id, temporal_run_id, status,
		       error_message, screenshot_path, created_at, started_at, completed_at
		FROM verification_runs
		WHERE id = ?
	`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	query := `
		SELECT id, plan_name, temporal_workflow_id, temporal_run_id, status,
		       error_message, screenshot_path, created_at, started_at, completed_at
		FROM verification_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.VerificationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListUnfinishedRuns returns runs still pending or running, oldest first
func (db *DB) ListUnfinishedRuns(ctx context.Context) ([]models.VerificationRun, error) {
	query := `
		SELECT id, plan_name, temporal_workflow_id, temporal_run_id, status,
		       error_message, screenshot_path, created_at, started_at, completed_at
		FROM verification_runs
		WHERE status IN (?, ?)
		ORDER BY created_at, id
	`

	rows, err := db.conn.QueryContext(ctx, query, models.StatusPending, models.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.VerificationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// AttachTemporalIDs records the workflow that executes a run and marks it running
func (db *DB) AttachTemporalIDs(ctx context.Context, id, workflowID, temporalRunID string) error {
	query := `
		UPDATE verification_runs
		SET temporal_workflow_id = ?, temporal_run_id = ?, status = ?, started_at = ?
		WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, workflowID, temporalRunID, models.StatusRunning, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to attach temporal ids: %w", err)
	}
	return nil
}

// UpdateRunStatus sets the status; terminal statuses also stamp completed_at
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `
		UPDATE verification_runs
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`

	var completed int64
	if status.Terminal() {
		completed = toMillis(time.Now())
	}

	_, err := db.conn.ExecContext(ctx, query, status, errorMsg, completed, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// CompleteRun stores the final outcome of a run together with its step results
func (db *DB) CompleteRun(ctx context.Context, result models.RunResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_runs
		SET status = ?, error_message = ?, screenshot_path = ?, completed_at = ?
		WHERE id = ?
	`, result.Status, result.ErrorMessage, result.ScreenshotPath, toMillis(time.Now()), result.RunID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if err := insertStepResults(ctx, tx, result.RunID, result.StepResults); err != nil {
		return err
	}

	return tx.Commit()
}

// ==================== Step Results ====================

// SaveStepResults inserts step results for a run
func (db *DB) SaveStepResults(ctx context.Context, runID string, results []models.StepResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertStepResults(ctx, tx, runID, results); err != nil {
		return err
	}
	return tx.Commit()
}

func insertStepResults(ctx context.Context, tx *sql.Tx, runID string, results []models.StepResult) error {
	query := `
		INSERT INTO step_results (id, run_id, sequence_id, step_type, description, status,
		                          error_kind, error_message, screenshot_path, duration_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", runID, r.SequenceID)
		}
		_, err := stmt.ExecContext(ctx,
			id,
			runID,
			r.SequenceID,
			r.StepType,
			r.Description,
			r.Status,
			r.ErrorKind,
			r.ErrorMessage,
			r.ScreenshotPath,
			r.Duration,
			toMillis(r.ExecutedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step result: %w", err)
		}
	}
	return nil
}

// GetStepResults retrieves all step results for a run in execution order
func (db *DB) GetStepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	query := `
		SELECT id, run_id, sequence_id, step_type, description, status,
		       error_kind, error_message, screenshot_path, duration_ms, executed_at
		FROM step_results
		WHERE run_id = ?
		ORDER BY sequence_id
	`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step results: %w", err)
	}
	defer rows.Close()

	results := make([]models.StepResult, 0)
	for rows.Next() {
		var r models.StepResult
		var executedAt int64
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.SequenceID,
			&r.StepType,
			&r.Description,
			&r.Status,
			&r.ErrorKind,
			&r.ErrorMessage,
			&r.ScreenshotPath,
			&r.Duration,
			&executedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		r.ExecutedAt = fromMillis(executedAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ==================== Helpers ====================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.VerificationRun, error) {
	var run models.VerificationRun
	var createdAt, startedAt, completedAt int64
	err := row.Scan(
		&run.ID,
		&run.PlanName,
		&run.TemporalWorkflowID,
		&run.TemporalRunID,
		&run.Status,
		&run.ErrorMessage,
		&run.ScreenshotPath,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = fromMillis(createdAt)
	run.StartedAt = fromMillis(startedAt)
	run.CompletedAt = fromMillis(completedAt)
	return &run, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
