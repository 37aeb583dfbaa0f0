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

// TemplateRepository handles process configuration reads and writes.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) ProcessTemplateByID(ctx context.Context, id string) (*models.ProcessTemplate, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM process_templates
		WHERE id = $1
	`

	var tpl models.ProcessTemplate

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Description,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrProcessTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan process template: %w", err)
	}

	subQuery := `
		SELECT id FROM sub_process_templates
		WHERE process_template_id = $1
		ORDER BY position, created_at
	`

	rows, err := r.db.QueryContext(ctx, subQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-process template ids: %w", err)
	}

	defer r.closeRows(ctx, rows)

	for rows.Next() {
		var subID string

		if err := rows.Scan(&subID); err != nil {
			return nil, fmt.Errorf("failed to scan sub-process template id: %w", err)
		}

		tpl.SubProcessTemplateIDs = append(tpl.SubProcessTemplateIDs, subID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sub-process template ids: %w", err)
	}

	return &tpl, nil
}

func (r *TemplateRepository) SubProcessTemplateByID(ctx context.Context, id string) (*models.SubProcessTemplate, error) {
	query := subProcessTemplateColumns + ` WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	tpl, err := scanSubProcessTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSubProcessTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan sub-process template: %w", err)
	}

	if err := r.loadTaskTemplates(ctx, tpl); err != nil {
		return nil, err
	}

	return tpl, nil
}

func (r *TemplateRepository) SubProcessTemplatesForProcess(ctx context.Context, processTemplateID string) ([]*models.SubProcessTemplate, error) {
	query := subProcessTemplateColumns + `
		WHERE process_template_id = $1
		ORDER BY position, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, processTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-process templates: %w", err)
	}

	defer r.closeRows(ctx, rows)

	templates := make([]*models.SubProcessTemplate, 0)

	for rows.Next() {
		tpl, err := scanSubProcessTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-process template: %w", err)
		}

		templates = append(templates, tpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sub-process templates: %w", err)
	}

	for _, tpl := range templates {
		if err := r.loadTaskTemplates(ctx, tpl); err != nil {
			return nil, err
		}
	}

	return templates, nil
}

func (r *TemplateRepository) SaveProcessTemplate(ctx context.Context, tpl *models.ProcessTemplate) error {
	ensureTemplateDefaults(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)

	query := `
		INSERT INTO process_templates (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, tpl.ID, tpl.Name, tpl.Description, tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveProcessTemplate", "process_template", tpl.ID, err)
	}

	return nil
}

func (r *TemplateRepository) SaveSubProcessTemplate(ctx context.Context, tpl *models.SubProcessTemplate) error {
	ensureTemplateDefaults(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)

	query := `
		INSERT INTO sub_process_templates (
			id, process_template_id, name, assignment_mode,
			target_user_id, target_group_id, target_department_id, target_manager_id,
			validation_levels, notify_on_create, notify_on_status_change, notify_on_close,
			position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			assignment_mode = EXCLUDED.assignment_mode,
			target_user_id = EXCLUDED.target_user_id,
			target_group_id = EXCLUDED.target_group_id,
			target_department_id = EXCLUDED.target_department_id,
			target_manager_id = EXCLUDED.target_manager_id,
			validation_levels = EXCLUDED.validation_levels,
			notify_on_create = EXCLUDED.notify_on_create,
			notify_on_status_change = EXCLUDED.notify_on_status_change,
			notify_on_close = EXCLUDED.notify_on_close,
			position = EXCLUDED.position,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		tpl.ID,
		tpl.ProcessTemplateID,
		tpl.Name,
		tpl.AssignmentMode,
		tpl.TargetUserID,
		tpl.TargetGroupID,
		tpl.TargetDepartmentID,
		tpl.TargetManagerID,
		tpl.ValidationLevels,
		tpl.NotifyOnCreate,
		tpl.NotifyOnStatusChange,
		tpl.NotifyOnClose,
		tpl.Position,
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveSubProcessTemplate", "sub_process_template", tpl.ID, err)
	}

	return nil
}

func (r *TemplateRepository) SaveTaskTemplate(ctx context.Context, tpl *models.TaskTemplate) error {
	ensureTemplateDefaults(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)

	checklistJSON, err := json.Marshal(tpl.Checklist)
	if err != nil {
		return fmt.Errorf("failed to marshal checklist: %w", err)
	}

	query := `
		INSERT INTO task_templates (
			id, sub_process_template_id, title, description, priority,
			default_duration_days, validation_level_1, validation_level_2,
			validator_1_id, validator_2_id, checklist, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			priority = EXCLUDED.priority,
			default_duration_days = EXCLUDED.default_duration_days,
			validation_level_1 = EXCLUDED.validation_level_1,
			validation_level_2 = EXCLUDED.validation_level_2,
			validator_1_id = EXCLUDED.validator_1_id,
			validator_2_id = EXCLUDED.validator_2_id,
			checklist = EXCLUDED.checklist,
			position = EXCLUDED.position,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		tpl.ID,
		tpl.SubProcessTemplateID,
		tpl.Title,
		tpl.Description,
		tpl.Priority,
		tpl.DefaultDurationDays,
		tpl.ValidationLevel1,
		tpl.ValidationLevel2,
		tpl.Validator1ID,
		tpl.Validator2ID,
		checklistJSON,
		tpl.Position,
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveTaskTemplate", "task_template", tpl.ID, err)
	}

	return nil
}

func (r *TemplateRepository) loadTaskTemplates(ctx context.Context, tpl *models.SubProcessTemplate) error {
	query := `
		SELECT id, sub_process_template_id, title, description, priority,
			default_duration_days, validation_level_1, validation_level_2,
			validator_1_id, validator_2_id, checklist, position, created_at, updated_at
		FROM task_templates
		WHERE sub_process_template_id = $1
		ORDER BY position, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tpl.ID)
	if err != nil {
		return fmt.Errorf("failed to query task templates: %w", err)
	}

	defer r.closeRows(ctx, rows)

	for rows.Next() {
		var (
			taskTpl       models.TaskTemplate
			checklistJSON []byte
		)

		err := rows.Scan(
			&taskTpl.ID,
			&taskTpl.SubProcessTemplateID,
			&taskTpl.Title,
			&taskTpl.Description,
			&taskTpl.Priority,
			&taskTpl.DefaultDurationDays,
			&taskTpl.ValidationLevel1,
			&taskTpl.ValidationLevel2,
			&taskTpl.Validator1ID,
			&taskTpl.Validator2ID,
			&checklistJSON,
			&taskTpl.Position,
			&taskTpl.CreatedAt,
			&taskTpl.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan task template: %w", err)
		}

		if checklistJSON != nil {
			if err := json.Unmarshal(checklistJSON, &taskTpl.Checklist); err != nil {
				return fmt.Errorf("failed to unmarshal checklist: %w", err)
			}
		}

		tpl.TaskTemplates = append(tpl.TaskTemplates, &taskTpl)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating task templates: %w", err)
	}

	return nil
}

func (r *TemplateRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

const subProcessTemplateColumns = `
	SELECT id, process_template_id, name, assignment_mode,
		target_user_id, target_group_id, target_department_id, target_manager_id,
		validation_levels, notify_on_create, notify_on_status_change, notify_on_close,
		position, created_at, updated_at
	FROM sub_process_templates
`

func scanSubProcessTemplate(scanner interface{ Scan(dest ...any) error }) (*models.SubProcessTemplate, error) {
	var tpl models.SubProcessTemplate

	err := scanner.Scan(
		&tpl.ID,
		&tpl.ProcessTemplateID,
		&tpl.Name,
		&tpl.AssignmentMode,
		&tpl.TargetUserID,
		&tpl.TargetGroupID,
		&tpl.TargetDepartmentID,
		&tpl.TargetManagerID,
		&tpl.ValidationLevels,
		&tpl.NotifyOnCreate,
		&tpl.NotifyOnStatusChange,
		&tpl.NotifyOnClose,
		&tpl.Position,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &tpl, nil
}

func ensureTemplateDefaults(id *string, createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()

	if *id == "" {
		generated, err := uuid.NewV7()
		if err == nil {
			*id = generated.String()
		} else {
			*id = uuid.New().String()
		}
	}

	if createdAt.IsZero() {
		*createdAt = now
	}

	*updatedAt = now
}
