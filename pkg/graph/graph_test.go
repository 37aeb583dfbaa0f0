package graph

import (
	"context"
	"log/slog"
	"testing"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs(count int) []*models.SubProcessTemplate {
	defs := make([]*models.SubProcessTemplate, 0, count)

	for i := 0; i < count; i++ {
		defs = append(defs, &models.SubProcessTemplate{
			ID:               newGraphID(),
			Name:             "Sub-process",
			AssignmentMode:   models.AssignmentModeDirect,
			TargetUserID:     "user-1",
			ValidationLevels: 0,
			NotifyOnCreate:   true,
			NotifyOnClose:    true,
			TaskTemplates: []*models.TaskTemplate{
				{ID: newGraphID(), Title: "Do the work"},
			},
		})
	}

	return defs
}

func newTestGenerator(t *testing.T) (*Generator, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	generator := NewGenerator(store.WorkflowRepository(), slog.Default())

	return generator, store
}

func TestGenerateSingleSubProcessLinearChain(t *testing.T) {
	generator, _ := newTestGenerator(t)

	owner := Owner{ProcessTemplateID: "proc-1", Name: "Onboarding"}

	result, err := generator.Generate(context.Background(), owner, testDefs(1), false)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, result.Outcome)

	template := result.Template
	require.Len(t, template.Nodes, 3)
	require.Len(t, template.Edges, 2)

	assert.Len(t, template.NodesByType(models.NodeTypeStart), 1)
	assert.Len(t, template.NodesByType(models.NodeTypeEnd), 1)
	assert.Len(t, template.StandardBlocks(), 1)
	assert.Empty(t, template.NodesByType(models.NodeTypeFork))
	assert.Empty(t, template.NodesByType(models.NodeTypeJoin))

	assert.True(t, template.IsDefault)
	assert.Equal(t, 1, template.Version)
	assert.Equal(t, models.TemplateStatusActive, template.Status)
}

func TestGenerateMultipleSubProcessesForkJoin(t *testing.T) {
	generator, _ := newTestGenerator(t)

	owner := Owner{ProcessTemplateID: "proc-1", Name: "Onboarding"}

	result, err := generator.Generate(context.Background(), owner, testDefs(3), false)
	require.NoError(t, err)

	template := result.Template

	// start, creation notice, fork, 3 blocks, join, closure notice, end
	require.Len(t, template.Nodes, 9)
	assert.Len(t, template.StandardBlocks(), 3)

	forks := template.NodesByType(models.NodeTypeFork)
	require.Len(t, forks, 1)

	branches := template.OutgoingEdges(forks[0].ID)
	require.Len(t, branches, 3)

	seen := map[int]bool{}
	for _, edge := range branches {
		seen[edge.BranchIndex] = true
	}

	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, seen)

	joins := template.NodesByType(models.NodeTypeJoin)
	require.Len(t, joins, 1)

	var joinConfig models.JoinConfig
	require.NoError(t, models.DecodeConfig(joins[0], &joinConfig))
	assert.Equal(t, 3, joinConfig.RequiredCount)

	notifications := template.NodesByType(models.NodeTypeNotification)
	require.Len(t, notifications, 2)
}

func TestGenerateBlockTypeSelection(t *testing.T) {
	tests := []struct {
		name             string
		mode             models.AssignmentMode
		validationLevels int
		want             models.NodeType
	}{
		{"direct no validation", models.AssignmentModeDirect, 0, models.NodeTypeBlockDirect},
		{"manager no validation", models.AssignmentModeManager, 0, models.NodeTypeBlockManager},
		{"one level", models.AssignmentModeDirect, 1, models.NodeTypeBlockValidation1},
		{"two levels", models.AssignmentModeManager, 2, models.NodeTypeBlockValidation2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, _ := newTestGenerator(t)

			defs := testDefs(1)
			defs[0].AssignmentMode = tt.mode
			defs[0].ValidationLevels = tt.validationLevels

			result, err := generator.Generate(context.Background(), Owner{SubProcessTemplateID: defs[0].ID}, defs, false)
			require.NoError(t, err)

			blocks := result.Template.StandardBlocks()
			require.Len(t, blocks, 1)
			assert.Equal(t, tt.want, blocks[0].Type)
		})
	}
}

func TestGenerateRejectsZeroTaskTemplates(t *testing.T) {
	generator, _ := newTestGenerator(t)

	defs := testDefs(1)
	defs[0].TaskTemplates = nil

	_, err := generator.Generate(context.Background(), Owner{ProcessTemplateID: "proc-1"}, defs, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTaskTemplates)
}

func TestGenerateIdempotentWithoutForce(t *testing.T) {
	generator, _ := newTestGenerator(t)

	owner := Owner{ProcessTemplateID: "proc-1", Name: "Onboarding"}
	ctx := context.Background()

	first, err := generator.Generate(ctx, owner, testDefs(2), false)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Outcome)

	second, err := generator.Generate(ctx, owner, testDefs(2), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.Equal(t, first.Template.ID, second.Template.ID)

	third, err := generator.Generate(ctx, owner, testDefs(2), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, third.Outcome)
	assert.Equal(t, first.Template.ID, third.Template.ID)
}

func TestGenerateForceSupersedesPreviousDefault(t *testing.T) {
	generator, store := newTestGenerator(t)

	owner := Owner{ProcessTemplateID: "proc-1", Name: "Onboarding"}
	ctx := context.Background()

	first, err := generator.Generate(ctx, owner, testDefs(2), false)
	require.NoError(t, err)

	second, err := generator.Generate(ctx, owner, testDefs(2), true)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, second.Outcome)
	assert.Equal(t, 2, second.Template.Version)
	assert.NotEqual(t, first.Template.ID, second.Template.ID)

	superseded, err := store.WorkflowRepository().GetByID(ctx, first.Template.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusSuperseded, superseded.Status)
	assert.False(t, superseded.IsDefault)

	current, err := store.WorkflowRepository().DefaultForOwner(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, second.Template.ID, current.ID)
}

func TestGenerateManyRecordsWarningsAndContinues(t *testing.T) {
	generator, _ := newTestGenerator(t)

	empty := testDefs(1)
	empty[0].TaskTemplates = nil

	items := []BatchItem{
		{Owner: Owner{ProcessTemplateID: "proc-1"}, Defs: testDefs(1)},
		{Owner: Owner{ProcessTemplateID: "proc-2"}, Defs: empty},
		{Owner: Owner{ProcessTemplateID: "proc-3"}, Defs: testDefs(2)},
	}

	batch, err := generator.GenerateMany(context.Background(), items, false)
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Created)
	assert.Equal(t, 0, batch.Skipped)
	require.Len(t, batch.Warnings, 1)
	assert.Contains(t, batch.Warnings[0], "proc-2")
}

func TestValidateRejectsCycle(t *testing.T) {
	template := &models.WorkflowTemplate{
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start"},
			{ID: "a", Type: models.NodeTypeTask, Name: "A"},
			{ID: "b", Type: models.NodeTypeTask, Name: "B"},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceID: "start", TargetID: "a", BranchIndex: models.UnlabeledBranch},
			{SourceID: "a", TargetID: "b", BranchIndex: models.UnlabeledBranch},
			{SourceID: "b", TargetID: "a", BranchIndex: models.UnlabeledBranch},
			{SourceID: "b", TargetID: "end", BranchIndex: models.UnlabeledBranch},
		},
	}

	err := Validate(template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclic)
	assert.ErrorIs(t, err, ErrGraphInvalid)
}

func TestValidateRejectsMissingStart(t *testing.T) {
	template := &models.WorkflowTemplate{
		Nodes: []*models.WorkflowNode{
			{ID: "a", Type: models.NodeTypeTask, Name: "A"},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceID: "a", TargetID: "end", BranchIndex: models.UnlabeledBranch},
		},
	}

	err := Validate(template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingStart)
}

func TestValidateRejectsDisconnectedNode(t *testing.T) {
	template := &models.WorkflowTemplate{
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start"},
			{ID: "orphan", Type: models.NodeTypeTask, Name: "Orphan"},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceID: "start", TargetID: "end", BranchIndex: models.UnlabeledBranch},
		},
	}

	err := Validate(template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestValidateRejectsBranchMismatch(t *testing.T) {
	joinConfig, err := models.EncodeConfig(models.JoinConfig{RequiredCount: 3})
	require.NoError(t, err)

	template := &models.WorkflowTemplate{
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start"},
			{ID: "fork", Type: models.NodeTypeFork, Name: "Fork"},
			{ID: "a", Type: models.NodeTypeTask, Name: "A"},
			{ID: "b", Type: models.NodeTypeTask, Name: "B"},
			{ID: "join", Type: models.NodeTypeJoin, Name: "Join", Config: joinConfig},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceID: "start", TargetID: "fork", BranchIndex: models.UnlabeledBranch},
			{SourceID: "fork", TargetID: "a", BranchIndex: 0},
			{SourceID: "fork", TargetID: "b", BranchIndex: 1},
			{SourceID: "a", TargetID: "join", BranchIndex: models.UnlabeledBranch},
			{SourceID: "b", TargetID: "join", BranchIndex: models.UnlabeledBranch},
			{SourceID: "join", TargetID: "end", BranchIndex: models.UnlabeledBranch},
		},
	}

	err = Validate(template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBranchMismatch)
}

func TestValidateRejectsDuplicateBranchIndex(t *testing.T) {
	joinConfig, err := models.EncodeConfig(models.JoinConfig{RequiredCount: 2})
	require.NoError(t, err)

	template := &models.WorkflowTemplate{
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start"},
			{ID: "fork", Type: models.NodeTypeFork, Name: "Fork"},
			{ID: "a", Type: models.NodeTypeTask, Name: "A"},
			{ID: "b", Type: models.NodeTypeTask, Name: "B"},
			{ID: "join", Type: models.NodeTypeJoin, Name: "Join", Config: joinConfig},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceID: "start", TargetID: "fork", BranchIndex: models.UnlabeledBranch},
			{SourceID: "fork", TargetID: "a", BranchIndex: 0},
			{SourceID: "fork", TargetID: "b", BranchIndex: 0},
			{SourceID: "a", TargetID: "join", BranchIndex: models.UnlabeledBranch},
			{SourceID: "b", TargetID: "join", BranchIndex: models.UnlabeledBranch},
			{SourceID: "join", TargetID: "end", BranchIndex: models.UnlabeledBranch},
		},
	}

	err = Validate(template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBranchMismatch)
}

func TestValidateRejectsBadBlockConfig(t *testing.T) {
	template := &models.WorkflowTemplate{
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start"},
			{
				ID:   "block",
				Type: models.NodeTypeBlockDirect,
				Name: "Block",
				// Missing required sub_process_template_id.
				Config: map[string]any{"sub_process_name": "x", "assignment_type": "direct"},
			},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceID: "start", TargetID: "block", BranchIndex: models.UnlabeledBranch},
			{SourceID: "block", TargetID: "end", BranchIndex: models.UnlabeledBranch},
		},
	}

	err := Validate(template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadNodeConfig)
}

func TestGeneratedTemplatePassesValidation(t *testing.T) {
	generator, _ := newTestGenerator(t)

	for _, count := range []int{1, 2, 5} {
		owner := Owner{ProcessTemplateID: newGraphID(), Name: "Process"}

		result, err := generator.Generate(context.Background(), owner, testDefs(count), false)
		require.NoError(t, err)
		require.NoError(t, Validate(result.Template))
	}
}
