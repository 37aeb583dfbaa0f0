// Package graph builds and validates workflow template graphs: a linear
// chain for a single sub-process, a fork/join layout for several.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/google/uuid"
)

// Outcome reports what Generate did for an owner.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
)

// Owner identifies the template owner of a generated graph, a process or
// a sub-process, never both.
type Owner struct {
	ProcessTemplateID    string
	SubProcessTemplateID string
	Name                 string
}

// ID returns the single owning template ID.
func (o Owner) ID() string {
	if o.ProcessTemplateID != "" {
		return o.ProcessTemplateID
	}

	return o.SubProcessTemplateID
}

// Result is the outcome of one generation call.
type Result struct {
	Outcome  Outcome
	Template *models.WorkflowTemplate
}

// BatchItem is one owner in a batch generation call.
type BatchItem struct {
	Owner Owner
	Defs  []*models.SubProcessTemplate
}

// BatchResult aggregates a batch generation pass. Zero-task-template
// owners are recorded as warnings, not failures.
type BatchResult struct {
	Created  int
	Skipped  int
	Warnings []string
}

// Generator builds workflow template graphs from sub-process definitions
// and persists them as the owner's active default.
type Generator struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

// NewGenerator creates a graph generator.
func NewGenerator(workflows persistence.WorkflowRepository, logger *slog.Logger) *Generator {
	return &Generator{
		workflows: workflows,
		logger:    logger.With("module", "graph_generator"),
	}
}

// Generate compiles the ordered sub-process definitions into a workflow
// graph and saves it as the owner's default template. Without force an
// existing default is left untouched and the call reports skipped; with
// force the previous default is superseded first. Generation markers make
// the whole operation idempotent across restarts.
func (g *Generator) Generate(ctx context.Context, owner Owner, defs []*models.SubProcessTemplate, force bool) (*Result, error) {
	if len(defs) == 0 {
		return nil, NewGraphError("generate", "", fmt.Errorf("%w: no sub-process definitions", ErrGraphInvalid))
	}

	for _, def := range defs {
		if len(def.TaskTemplates) == 0 {
			return nil, NewGraphError("generate", "", fmt.Errorf("%w: %s", ErrNoTaskTemplates, def.Name))
		}
	}

	version := 1

	previous, err := g.workflows.DefaultForOwner(ctx, owner.ID())
	if err != nil && !errors.Is(err, persistence.ErrWorkflowTemplateNotFound) {
		return nil, fmt.Errorf("failed to look up default template: %w", err)
	}

	if previous != nil {
		if !force {
			g.logger.InfoContext(ctx, "default template exists, skipping generation",
				"owner_id", owner.ID(), "template_id", previous.ID, "version", previous.Version)

			return &Result{Outcome: OutcomeSkipped, Template: previous}, nil
		}

		version = previous.Version + 1
	}

	attempted, err := g.workflows.GenerationAttempted(ctx, owner.ID(), version)
	if err != nil {
		return nil, fmt.Errorf("failed to check generation marker: %w", err)
	}

	if attempted && !force {
		g.logger.InfoContext(ctx, "generation already attempted, skipping",
			"owner_id", owner.ID(), "version", version)

		return &Result{Outcome: OutcomeSkipped, Template: previous}, nil
	}

	template, err := buildTemplate(owner, defs, version)
	if err != nil {
		return nil, err
	}

	if err := Validate(template); err != nil {
		return nil, err
	}

	if previous != nil {
		if err := g.workflows.Supersede(ctx, previous.ID); err != nil {
			return nil, fmt.Errorf("failed to supersede previous default: %w", err)
		}
	}

	if err := g.workflows.Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save generated template: %w", err)
	}

	marker := models.GenerationMarker{OwnerID: owner.ID(), Version: version}
	if err := g.workflows.MarkGenerationAttempted(ctx, marker); err != nil {
		return nil, fmt.Errorf("failed to record generation marker: %w", err)
	}

	g.logger.InfoContext(ctx, "workflow template generated",
		"owner_id", owner.ID(), "template_id", template.ID,
		"version", version, "sub_processes", len(defs))

	return &Result{Outcome: OutcomeCreated, Template: template}, nil
}

// GenerateMany runs generation for many owners. Owners whose definitions
// carry no task templates are recorded as warnings and the batch moves on.
func (g *Generator) GenerateMany(ctx context.Context, items []BatchItem, force bool) (*BatchResult, error) {
	batch := &BatchResult{}

	for _, item := range items {
		result, err := g.Generate(ctx, item.Owner, item.Defs, force)
		if err != nil {
			if errors.Is(err, ErrNoTaskTemplates) {
				warning := fmt.Sprintf("owner %s: %s", item.Owner.ID(), err)
				batch.Warnings = append(batch.Warnings, warning)
				g.logger.WarnContext(ctx, "skipping owner without task templates", "owner_id", item.Owner.ID())

				continue
			}

			return batch, err
		}

		switch result.Outcome {
		case OutcomeCreated:
			batch.Created++
		case OutcomeSkipped:
			batch.Skipped++
		}
	}

	return batch, nil
}

func buildTemplate(owner Owner, defs []*models.SubProcessTemplate, version int) (*models.WorkflowTemplate, error) {
	name := owner.Name
	if name == "" {
		name = "Generated workflow"
	}

	template := &models.WorkflowTemplate{
		ID:                   newGraphID(),
		Name:                 fmt.Sprintf("%s v%d", name, version),
		Version:              version,
		Status:               models.TemplateStatusActive,
		ProcessTemplateID:    owner.ProcessTemplateID,
		SubProcessTemplateID: owner.SubProcessTemplateID,
		IsDefault:            true,
	}

	start := &models.WorkflowNode{
		ID:   newGraphID(),
		Type: models.NodeTypeStart,
		Name: "Start",
	}
	template.Nodes = append(template.Nodes, start)

	if len(defs) == 1 {
		block, err := blockNode(defs[0], 220, 0)
		if err != nil {
			return nil, err
		}

		end := &models.WorkflowNode{
			ID:        newGraphID(),
			Type:      models.NodeTypeEnd,
			Name:      "End",
			PositionX: 440,
		}

		template.Nodes = append(template.Nodes, block, end)
		template.Edges = append(template.Edges,
			plainEdge(start.ID, block.ID),
			plainEdge(block.ID, end.ID),
		)

		return template, nil
	}

	creationNotice, err := notificationNode(models.NotificationKindCreation, "Notify creation", 220)
	if err != nil {
		return nil, err
	}

	fork := &models.WorkflowNode{
		ID:        newGraphID(),
		Type:      models.NodeTypeFork,
		Name:      "Fork",
		PositionX: 440,
	}

	joinConfig, err := models.EncodeConfig(models.JoinConfig{RequiredCount: len(defs)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode join config: %w", err)
	}

	join := &models.WorkflowNode{
		ID:        newGraphID(),
		Type:      models.NodeTypeJoin,
		Name:      "Join",
		Config:    joinConfig,
		PositionX: 880,
	}

	closureNotice, err := notificationNode(models.NotificationKindClosure, "Notify closure", 1100)
	if err != nil {
		return nil, err
	}

	end := &models.WorkflowNode{
		ID:        newGraphID(),
		Type:      models.NodeTypeEnd,
		Name:      "End",
		PositionX: 1320,
	}

	template.Nodes = append(template.Nodes, creationNotice, fork)
	template.Edges = append(template.Edges,
		plainEdge(start.ID, creationNotice.ID),
		plainEdge(creationNotice.ID, fork.ID),
	)

	for i, def := range defs {
		block, err := blockNode(def, 660, i*140)
		if err != nil {
			return nil, err
		}

		template.Nodes = append(template.Nodes, block)
		template.Edges = append(template.Edges,
			branchEdge(fork.ID, block.ID, i),
			plainEdge(block.ID, join.ID),
		)
	}

	template.Nodes = append(template.Nodes, join, closureNotice, end)
	template.Edges = append(template.Edges,
		plainEdge(join.ID, closureNotice.ID),
		plainEdge(closureNotice.ID, end.ID),
	)

	return template, nil
}

func blockNode(def *models.SubProcessTemplate, x, y int) (*models.WorkflowNode, error) {
	blockType, err := models.BlockTypeFor(def.AssignmentMode, def.ValidationLevels)
	if err != nil {
		return nil, NewGraphError("generate", "", fmt.Errorf("%w: %s: %v", ErrGraphInvalid, def.Name, err))
	}

	config, err := models.EncodeConfig(models.BlockConfig{
		SubProcessTemplateID: def.ID,
		SubProcessName:       def.Name,
		AssignmentType:       def.AssignmentMode,
		TargetManagerID:      def.TargetManagerID,
		TargetAssigneeID:     def.TargetUserID,
		TargetDepartmentID:   def.TargetDepartmentID,
		TargetGroupID:        def.TargetGroupID,
		ValidationLevels:     def.ValidationLevels,
		NotifyOnCreate:       def.NotifyOnCreate,
		NotifyOnStatusChange: def.NotifyOnStatusChange,
		NotifyOnClose:        def.NotifyOnClose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode block config: %w", err)
	}

	return &models.WorkflowNode{
		ID:        newGraphID(),
		Type:      blockType,
		Name:      def.Name,
		Config:    config,
		PositionX: x,
		PositionY: y,
	}, nil
}

func notificationNode(kind models.NotificationKind, name string, x int) (*models.WorkflowNode, error) {
	config, err := models.EncodeConfig(models.NotificationConfig{Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification config: %w", err)
	}

	return &models.WorkflowNode{
		ID:        newGraphID(),
		Type:      models.NodeTypeNotification,
		Name:      name,
		Config:    config,
		PositionX: x,
	}, nil
}

func plainEdge(sourceID, targetID string) *models.WorkflowEdge {
	return &models.WorkflowEdge{
		ID:          newGraphID(),
		SourceID:    sourceID,
		TargetID:    targetID,
		BranchIndex: models.UnlabeledBranch,
	}
}

func branchEdge(sourceID, targetID string, branch int) *models.WorkflowEdge {
	return &models.WorkflowEdge{
		ID:          newGraphID(),
		SourceID:    sourceID,
		TargetID:    targetID,
		BranchIndex: branch,
	}
}

func newGraphID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}
