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

// WorkflowRepository handles workflow template graphs and generation
// markers.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save persists the template with its full graph in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow template ID: %w", err)
		}

		template.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	templateQuery := `
		INSERT INTO workflow_templates (id, name, version, status,
			process_template_id, sub_process_template_id, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			is_default = EXCLUDED.is_default,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, templateQuery,
		template.ID,
		template.Name,
		template.Version,
		template.Status,
		template.ProcessTemplateID,
		template.SubProcessTemplateID,
		template.IsDefault,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow template base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_edges WHERE workflow_template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing edges: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	if err = r.saveNodes(ctx, tx, template); err != nil {
		return fmt.Errorf("failed to save workflow nodes: %w", err)
	}

	if err = r.saveEdges(ctx, tx, template); err != nil {
		return fmt.Errorf("failed to save workflow edges: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `
		SELECT id, name, version, status,
			COALESCE(process_template_id, ''), COALESCE(sub_process_template_id, ''),
			is_default, created_at, updated_at
		FROM workflow_templates
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	template, err := scanWorkflowTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow template: %w", err)
	}

	if err := r.loadGraph(ctx, template); err != nil {
		return nil, err
	}

	return template, nil
}

func (r *WorkflowRepository) DefaultForOwner(ctx context.Context, ownerID string) (*models.WorkflowTemplate, error) {
	query := `
		SELECT id, name, version, status,
			COALESCE(process_template_id, ''), COALESCE(sub_process_template_id, ''),
			is_default, created_at, updated_at
		FROM workflow_templates
		WHERE COALESCE(process_template_id, sub_process_template_id) = $1
		  AND is_default AND status = 'active'
	`

	row := r.db.QueryRowContext(ctx, query, ownerID)

	template, err := scanWorkflowTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan default workflow template: %w", err)
	}

	if err := r.loadGraph(ctx, template); err != nil {
		return nil, err
	}

	return template, nil
}

// Supersede retires a template: it stays queryable for running instances
// but is no longer the owner's default.
func (r *WorkflowRepository) Supersede(ctx context.Context, templateID string) error {
	query := `
		UPDATE workflow_templates
		SET status = 'superseded', is_default = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, templateID)
	if err != nil {
		return persistence.NewStoreError("Supersede", "workflow_template", templateID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowTemplateNotFound
	}

	return nil
}

func (r *WorkflowRepository) MarkGenerationAttempted(ctx context.Context, marker models.GenerationMarker) error {
	query := `
		INSERT INTO generation_attempts (owner_id, version, attempted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, version) DO NOTHING
	`

	attemptedAt := marker.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query, marker.OwnerID, marker.Version, attemptedAt)
	if err != nil {
		return persistence.NewStoreError("MarkGenerationAttempted", "generation_attempt", marker.OwnerID, err)
	}

	return nil
}

func (r *WorkflowRepository) GenerationAttempted(ctx context.Context, ownerID string, version int) (bool, error) {
	var count int

	query := `SELECT COUNT(*) FROM generation_attempts WHERE owner_id = $1 AND version = $2`

	err := r.db.QueryRowContext(ctx, query, ownerID, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query generation attempts: %w", err)
	}

	return count > 0, nil
}

func (r *WorkflowRepository) loadGraph(ctx context.Context, template *models.WorkflowTemplate) error {
	nodesQuery := `
		SELECT id, node_type, name, config, position_x, position_y
		FROM workflow_nodes
		WHERE workflow_template_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, nodesQuery, template.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var nodes []*models.WorkflowNode

	for rows.Next() {
		var (
			node       models.WorkflowNode
			configJSON []byte
		)

		err := rows.Scan(&node.ID, &node.Type, &node.Name, &configJSON, &node.PositionX, &node.PositionY)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		if configJSON != nil {
			if err := json.Unmarshal(configJSON, &node.Config); err != nil {
				return fmt.Errorf("failed to unmarshal node configuration: %w", err)
			}
		}

		nodes = append(nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	template.Nodes = nodes

	edgesQuery := `
		SELECT id, source_id, target_id, branch_index
		FROM workflow_edges
		WHERE workflow_template_id = $1
		ORDER BY created_at, id
	`

	edgeRows, err := r.db.QueryContext(ctx, edgesQuery, template.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow edges: %w", err)
	}

	defer func() {
		if err := edgeRows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var edges []*models.WorkflowEdge

	for edgeRows.Next() {
		var edge models.WorkflowEdge

		err := edgeRows.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &edge.BranchIndex)
		if err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}

		edges = append(edges, &edge)
	}

	if err := edgeRows.Err(); err != nil {
		return fmt.Errorf("error iterating edges: %w", err)
	}

	template.Edges = edges

	return nil
}

func (r *WorkflowRepository) saveNodes(ctx context.Context, tx *sql.Tx, template *models.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_nodes (id, workflow_template_id, node_type, name, config, position_x, position_y)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, node := range template.Nodes {
		configJSON, err := json.Marshal(node.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal node configuration: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			node.ID,
			template.ID,
			node.Type,
			node.Name,
			configJSON,
			node.PositionX,
			node.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) saveEdges(ctx context.Context, tx *sql.Tx, template *models.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_edges (id, workflow_template_id, source_id, target_id, branch_index)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, edge := range template.Edges {
		if edge.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate edge ID: %w", err)
			}

			edge.ID = id.String()
		}

		_, err := tx.ExecContext(ctx, query,
			edge.ID,
			template.ID,
			edge.SourceID,
			edge.TargetID,
			edge.BranchIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to save edge %s: %w", edge.ID, err)
		}
	}

	return nil
}

func scanWorkflowTemplate(scanner interface{ Scan(dest ...any) error }) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	err := scanner.Scan(
		&template.ID,
		&template.Name,
		&template.Version,
		&template.Status,
		&template.ProcessTemplateID,
		&template.SubProcessTemplateID,
		&template.IsDefault,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &template, nil
}
