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

// TaskRepository handles task instance storage. Mutation goes through
// SaveTransition, a conditional single-row update keyed by the expected
// prior status.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()

	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate task ID: %w", err)
		}

		task.ID = id.String()
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	checklistJSON, validation1JSON, validation2JSON, err := marshalTaskBlobs(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, title, description, status, priority,
			assignee_id, requester_id, reporter_id,
			parent_request_id, parent_sub_process_run_id, workflow_run_id,
			due_date, checklist,
			validation_level_1, validation_level_2, validator_1_id, validator_2_id,
			validation_1, validation_2,
			is_locked_for_validation, original_assignee_id, validated_at, validator_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		task.AssigneeID, task.RequesterID, task.ReporterID,
		task.ParentRequestID, task.ParentSubProcessRunID, task.WorkflowRunID,
		task.DueDate, checklistJSON,
		task.ValidationLevel1, task.ValidationLevel2, task.Validator1ID, task.Validator2ID,
		validation1JSON, validation2JSON,
		task.IsLockedForValidation, task.OriginalAssigneeID, task.ValidatedAt, task.ValidatorID,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Create", "task", task.ID, err)
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := taskColumns + ` WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

func (r *TaskRepository) TasksForSubProcessRun(ctx context.Context, subProcessRunID string) ([]*models.Task, error) {
	return r.list(ctx, taskColumns+` WHERE parent_sub_process_run_id = $1 ORDER BY created_at, id`, subProcessRunID)
}

func (r *TaskRepository) TasksForRequest(ctx context.Context, requestID string) ([]*models.Task, error) {
	return r.list(ctx, taskColumns+` WHERE parent_request_id = $1 ORDER BY created_at, id`, requestID)
}

// SaveTransition writes the task's mutable fields guarded by the expected
// prior status. Zero affected rows means another writer won the race.
func (r *TaskRepository) SaveTransition(ctx context.Context, task *models.Task, expected models.TaskStatus) error {
	task.UpdatedAt = time.Now().UTC()

	checklistJSON, validation1JSON, validation2JSON, err := marshalTaskBlobs(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET status = $1, priority = $2, assignee_id = $3,
			due_date = $4, checklist = $5,
			validation_1 = $6, validation_2 = $7,
			is_locked_for_validation = $8, original_assignee_id = $9,
			validated_at = $10, validator_id = $11, updated_at = $12
		WHERE id = $13 AND status = $14
	`

	result, err := r.db.ExecContext(ctx, query,
		task.Status, task.Priority, task.AssigneeID,
		task.DueDate, checklistJSON,
		validation1JSON, validation2JSON,
		task.IsLockedForValidation, task.OriginalAssigneeID,
		task.ValidatedAt, task.ValidatorID, task.UpdatedAt,
		task.ID, expected,
	)
	if err != nil {
		return persistence.NewStoreError("SaveTransition", "task", task.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("SaveTransition", "task", task.ID, persistence.ErrConflict)
	}

	return nil
}

// UpdateStatusMany flips many tasks in one statement. Rows whose status
// no longer matches expected are skipped; the affected count tells the
// caller how many actually moved.
func (r *TaskRepository) UpdateStatusMany(ctx context.Context, ids []string, expected, next models.TaskStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE tasks
		SET status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, next, pq.Array(ids), expected)
	if err != nil {
		return 0, persistence.NewStoreError("UpdateStatusMany", "task", fmt.Sprintf("%d ids", len(ids)), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

func (r *TaskRepository) list(ctx context.Context, query string, arg any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

const taskColumns = `
	SELECT id, title, description, status, priority,
		assignee_id, requester_id, reporter_id,
		parent_request_id, parent_sub_process_run_id, workflow_run_id,
		due_date, checklist,
		validation_level_1, validation_level_2, validator_1_id, validator_2_id,
		validation_1, validation_2,
		is_locked_for_validation, original_assignee_id, validated_at, validator_id,
		created_at, updated_at
	FROM tasks
`

func scanTask(scanner interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		task                                        models.Task
		checklistJSON, validation1JSON, validation2 []byte
	)

	err := scanner.Scan(
		&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.AssigneeID, &task.RequesterID, &task.ReporterID,
		&task.ParentRequestID, &task.ParentSubProcessRunID, &task.WorkflowRunID,
		&task.DueDate, &checklistJSON,
		&task.ValidationLevel1, &task.ValidationLevel2, &task.Validator1ID, &task.Validator2ID,
		&validation1JSON, &validation2,
		&task.IsLockedForValidation, &task.OriginalAssigneeID, &task.ValidatedAt, &task.ValidatorID,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if checklistJSON != nil {
		if err := json.Unmarshal(checklistJSON, &task.Checklist); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checklist: %w", err)
		}
	}

	if validation1JSON != nil {
		if err := json.Unmarshal(validation1JSON, &task.Validation1); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation record: %w", err)
		}
	}

	if validation2 != nil {
		if err := json.Unmarshal(validation2, &task.Validation2); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation record: %w", err)
		}
	}

	return &task, nil
}

func marshalTaskBlobs(task *models.Task) (checklist, validation1, validation2 []byte, err error) {
	checklist, err = json.Marshal(task.Checklist)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal checklist: %w", err)
	}

	validation1, err = json.Marshal(task.Validation1)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal validation record: %w", err)
	}

	validation2, err = json.Marshal(task.Validation2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal validation record: %w", err)
	}

	return checklist, validation1, validation2, nil
}
