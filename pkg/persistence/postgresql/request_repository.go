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
)

// RequestRepository handles request instances and their pre-workflow
// validation gate.
type RequestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *sql.DB, logger *slog.Logger) *RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	now := time.Now().UTC()

	if request.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate request ID: %w", err)
		}

		request.ID = id.String()
	}

	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}

	request.UpdatedAt = now

	fieldValuesJSON, validation1JSON, validation2JSON, err := marshalRequestBlobs(request)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requests (id, title, description, status,
			requester_id, department_id, process_template_id, field_values,
			validation_levels, validation_level_1, validation_level_2,
			validator_1_id, validator_2_id, validation_status,
			validation_1, validation_2, workflow_run_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19)
	`

	_, err = r.db.ExecContext(ctx, query,
		request.ID, request.Title, request.Description, request.Status,
		request.RequesterID, request.DepartmentID, request.ProcessTemplateID, fieldValuesJSON,
		request.ValidationLevels, request.ValidationLevel1, request.ValidationLevel2,
		request.Validator1ID, request.Validator2ID, request.ValidationStatus,
		validation1JSON, validation2JSON, request.WorkflowRunID,
		request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Create", "request", request.ID, err)
	}

	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `
		SELECT id, title, description, status,
			requester_id, department_id, process_template_id, field_values,
			validation_levels, validation_level_1, validation_level_2,
			validator_1_id, validator_2_id, validation_status,
			validation_1, validation_2, workflow_run_id, created_at, updated_at
		FROM requests
		WHERE id = $1
	`

	var (
		request                                        models.Request
		fieldValuesJSON, validation1JSON, validation2J []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.Title, &request.Description, &request.Status,
		&request.RequesterID, &request.DepartmentID, &request.ProcessTemplateID, &fieldValuesJSON,
		&request.ValidationLevels, &request.ValidationLevel1, &request.ValidationLevel2,
		&request.Validator1ID, &request.Validator2ID, &request.ValidationStatus,
		&validation1JSON, &validation2J, &request.WorkflowRunID,
		&request.CreatedAt, &request.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRequestNotFound
		}

		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if fieldValuesJSON != nil {
		if err := json.Unmarshal(fieldValuesJSON, &request.FieldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field values: %w", err)
		}
	}

	if validation1JSON != nil {
		if err := json.Unmarshal(validation1JSON, &request.Validation1); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation record: %w", err)
		}
	}

	if validation2J != nil {
		if err := json.Unmarshal(validation2J, &request.Validation2); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation record: %w", err)
		}
	}

	return &request, nil
}

// SaveValidationTransition writes the gate fields guarded by the expected
// prior validation status.
func (r *RequestRepository) SaveValidationTransition(ctx context.Context, request *models.Request, expected models.RequestValidationStatus) error {
	request.UpdatedAt = time.Now().UTC()

	_, validation1JSON, validation2JSON, err := marshalRequestBlobs(request)
	if err != nil {
		return err
	}

	query := `
		UPDATE requests
		SET status = $1, validation_status = $2, validation_1 = $3, validation_2 = $4,
			updated_at = $5
		WHERE id = $6 AND validation_status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		request.Status, request.ValidationStatus, validation1JSON, validation2JSON,
		request.UpdatedAt, request.ID, expected,
	)
	if err != nil {
		return persistence.NewStoreError("SaveValidationTransition", "request", request.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("SaveValidationTransition", "request", request.ID, persistence.ErrConflict)
	}

	return nil
}

func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus) error {
	query := `
		UPDATE requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return persistence.NewStoreError("UpdateStatus", "request", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("UpdateStatus", "request", id, persistence.ErrConflict)
	}

	return nil
}

func (r *RequestRepository) SetWorkflowRun(ctx context.Context, requestID, workflowRunID string) error {
	query := `UPDATE requests SET workflow_run_id = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, workflowRunID, requestID)
	if err != nil {
		return persistence.NewStoreError("SetWorkflowRun", "request", requestID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRequestNotFound
	}

	return nil
}

func marshalRequestBlobs(request *models.Request) (fieldValues, validation1, validation2 []byte, err error) {
	fieldValues, err = json.Marshal(request.FieldValues)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal field values: %w", err)
	}

	validation1, err = json.Marshal(request.Validation1)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal validation record: %w", err)
	}

	validation2, err = json.Marshal(request.Validation2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal validation record: %w", err)
	}

	return fieldValues, validation1, validation2, nil
}
