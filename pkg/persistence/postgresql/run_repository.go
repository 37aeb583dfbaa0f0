package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunRepository handles workflow runs and sub-process runs.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) CreateWorkflowRun(ctx context.Context, run *models.WorkflowRun) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	logJSON, err := json.Marshal(run.Log)
	if err != nil {
		return fmt.Errorf("failed to marshal run log: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (id, workflow_template_id, template_version,
			request_id, status, context, log, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowTemplateID,
		run.TemplateVersion,
		run.RequestID,
		run.Status,
		contextJSON,
		logJSON,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return persistence.NewStoreError("CreateWorkflowRun", "workflow_run", run.ID, err)
	}

	return nil
}

func (r *RunRepository) WorkflowRunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	query := `
		SELECT id, workflow_template_id, template_version, request_id, status,
			context, log, started_at, completed_at
		FROM workflow_runs
		WHERE id = $1
	`

	var (
		run                  models.WorkflowRun
		contextJSON, logJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.WorkflowTemplateID,
		&run.TemplateVersion,
		&run.RequestID,
		&run.Status,
		&contextJSON,
		&logJSON,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowRunNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow run: %w", err)
	}

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}

	if logJSON != nil {
		if err := json.Unmarshal(logJSON, &run.Log); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run log: %w", err)
		}
	}

	return &run, nil
}

func (r *RunRepository) UpdateWorkflowRunStatus(ctx context.Context, id string, expected, next models.WorkflowRunStatus, completedAt *time.Time) error {
	query := `
		UPDATE workflow_runs
		SET status = $1, completed_at = COALESCE($2, completed_at)
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, next, completedAt, id, expected)
	if err != nil {
		return persistence.NewStoreError("UpdateWorkflowRunStatus", "workflow_run", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("UpdateWorkflowRunStatus", "workflow_run", id, persistence.ErrConflict)
	}

	return nil
}

// AppendWorkflowRunLog appends one entry to the run's execution log.
func (r *RunRepository) AppendWorkflowRunLog(ctx context.Context, runID string, entry models.ExecutionLogEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	query := `
		UPDATE workflow_runs
		SET log = COALESCE(log, '[]'::jsonb) || $1::jsonb
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, entryJSON, runID)
	if err != nil {
		return persistence.NewStoreError("AppendWorkflowRunLog", "workflow_run", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowRunNotFound
	}

	return nil
}

func (r *RunRepository) CreateSubProcessRun(ctx context.Context, run *models.SubProcessRun) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate sub-process run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO request_sub_processes (id, request_id, sub_process_template_id,
			workflow_run_id, name, status, notify_on_close, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.RequestID,
		run.SubProcessTemplateID,
		run.WorkflowRunID,
		run.Name,
		run.Status,
		run.NotifyOnClose,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
	)
	if err != nil {
		// The unique (request_id, sub_process_template_id) pair is the block
		// engine's idempotency key; surface violations as conflicts.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewStoreError("CreateSubProcessRun", "sub_process_run", run.ID, persistence.ErrConflict)
		}

		return persistence.NewStoreError("CreateSubProcessRun", "sub_process_run", run.ID, err)
	}

	return nil
}

func (r *RunRepository) SubProcessRunByID(ctx context.Context, id string) (*models.SubProcessRun, error) {
	query := subProcessRunColumns + ` WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	run, err := scanSubProcessRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSubProcessRunNotFound
		}

		return nil, fmt.Errorf("failed to scan sub-process run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) SubProcessRunsForRequest(ctx context.Context, requestID string) ([]*models.SubProcessRun, error) {
	query := subProcessRunColumns + ` WHERE request_id = $1 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-process runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.SubProcessRun, 0)

	for rows.Next() {
		run, err := scanSubProcessRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-process run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sub-process runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) SubProcessRunForTemplate(ctx context.Context, requestID, subProcessTemplateID string) (*models.SubProcessRun, error) {
	query := subProcessRunColumns + ` WHERE request_id = $1 AND sub_process_template_id = $2`

	row := r.db.QueryRowContext(ctx, query, requestID, subProcessTemplateID)

	run, err := scanSubProcessRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSubProcessRunNotFound
		}

		return nil, fmt.Errorf("failed to scan sub-process run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) UpdateSubProcessRunStatus(ctx context.Context, id string, expected, next models.SubProcessRunStatus, completedAt *time.Time) error {
	query := `
		UPDATE request_sub_processes
		SET status = $1,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = COALESCE($3, completed_at)
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, next, next, completedAt, id, expected)
	if err != nil {
		return persistence.NewStoreError("UpdateSubProcessRunStatus", "sub_process_run", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("UpdateSubProcessRunStatus", "sub_process_run", id, persistence.ErrConflict)
	}

	return nil
}

func (r *RunRepository) ListOpenSubProcessRuns(ctx context.Context, limit int) ([]*models.SubProcessRun, error) {
	query := subProcessRunColumns + ` WHERE status = 'running' ORDER BY created_at, id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query open sub-process runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.SubProcessRun, 0)

	for rows.Next() {
		run, err := scanSubProcessRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-process run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sub-process runs: %w", err)
	}

	return runs, nil
}

const subProcessRunColumns = `
	SELECT id, request_id, sub_process_template_id, workflow_run_id, name,
		status, notify_on_close, started_at, completed_at, created_at
	FROM request_sub_processes
`

func scanSubProcessRun(scanner interface{ Scan(dest ...any) error }) (*models.SubProcessRun, error) {
	var run models.SubProcessRun

	err := scanner.Scan(
		&run.ID,
		&run.RequestID,
		&run.SubProcessTemplateID,
		&run.WorkflowRunID,
		&run.Name,
		&run.Status,
		&run.NotifyOnClose,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &run, nil
}
