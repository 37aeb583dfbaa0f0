package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseflow/caseflow/pkg/block"
	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/gate"
	"github.com/caseflow/caseflow/pkg/graph"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// SubmitRequest is the input to request submission. The validation fields
// configure the pre-workflow gate over the requester's reporting line.
type SubmitRequest struct {
	Title             string         `validate:"required,min=3"`
	Description       string         `validate:"omitempty"`
	RequesterID       string         `validate:"required"`
	DepartmentID      string         `validate:"omitempty"`
	ProcessTemplateID string         `validate:"required"`
	FieldValues       map[string]any `validate:"omitempty"`

	ValidationLevels int                  `validate:"min=0,max=2"`
	ValidationLevel1 models.ValidatorType `validate:"omitempty"`
	ValidationLevel2 models.ValidatorType `validate:"omitempty"`
	Validator1ID     string               `validate:"omitempty"`
	Validator2ID     string               `validate:"omitempty"`
}

// RequestProgress summarizes where a request stands: its gate, its
// branches and their tasks.
type RequestProgress struct {
	Request        *models.Request         `json:"request"`
	SubProcessRuns []*models.SubProcessRun `json:"sub_process_runs"`
	Tasks          []*models.Task          `json:"tasks"`
}

// RequestService drives the request lifecycle: submission, the
// pre-workflow gate, workflow start and block execution.
type RequestService struct {
	store     persistence.Persistence
	generator *graph.Generator
	engine    *block.Engine
	gate      *gate.RequestGate
	emitter   *eventbus.Emitter
	validator *validator.Validate
	logger    *slog.Logger
}

// NewRequestService creates a request service.
func NewRequestService(
	store persistence.Persistence,
	generator *graph.Generator,
	engine *block.Engine,
	requestGate *gate.RequestGate,
	emitter *eventbus.Emitter,
	logger *slog.Logger,
) *RequestService {
	return &RequestService{
		store:     store,
		generator: generator,
		engine:    engine,
		gate:      requestGate,
		emitter:   emitter,
		validator: validator.New(),
		logger:    logger.With("module", "request_service"),
	}
}

// Submit creates a request and either starts its workflow immediately or
// parks every sub-process behind the validation gate.
func (s *RequestService) Submit(ctx context.Context, input SubmitRequest) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	defs, err := s.store.TemplateRepository().SubProcessTemplatesForProcess(ctx, input.ProcessTemplateID)
	if err != nil {
		return nil, NewServiceError("Submit", "failed to load process configuration", err)
	}

	request := &models.Request{
		Title:             input.Title,
		Description:       input.Description,
		Status:            models.RequestStatusSubmitted,
		RequesterID:       input.RequesterID,
		DepartmentID:      input.DepartmentID,
		ProcessTemplateID: input.ProcessTemplateID,
		FieldValues:       input.FieldValues,
		ValidationLevels:  input.ValidationLevels,
		ValidationLevel1:  input.ValidationLevel1,
		ValidationLevel2:  input.ValidationLevel2,
		Validator1ID:      input.Validator1ID,
		Validator2ID:      input.Validator2ID,
	}

	gated := s.gate.Open(ctx, request)

	if err := s.store.RequestRepository().Create(ctx, request); err != nil {
		return nil, NewServiceError("Submit", "failed to create request", err)
	}

	s.gate.NotifyOpened(ctx, request)

	// While the gate is pending the workflow does not start and every
	// branch waits; on direct submission the branches start pending and
	// the workflow is kicked off immediately.
	runStatus := models.SubProcessRunStatusPending
	if gated {
		runStatus = models.SubProcessRunStatusWaitingValidation
	}

	for _, def := range defs {
		run := &models.SubProcessRun{
			RequestID:            request.ID,
			SubProcessTemplateID: def.ID,
			Name:                 def.Name,
			Status:               runStatus,
			NotifyOnClose:        def.NotifyOnClose,
		}

		if err := s.store.RunRepository().CreateSubProcessRun(ctx, run); err != nil {
			return nil, NewServiceError("Submit", "failed to create sub-process run", err)
		}
	}

	s.logger.InfoContext(ctx, "request submitted",
		"request_id", request.ID, "requester_id", request.RequesterID,
		"sub_processes", len(defs), "gated", gated)

	if gated {
		return request, nil
	}

	if err := s.startWorkflow(ctx, request, defs); err != nil {
		return nil, err
	}

	return request, nil
}

// ApproveValidation applies one gate approval. Final approval starts the
// workflow and executes the blocks that were waiting on it.
func (s *RequestService) ApproveValidation(ctx context.Context, requestID string, level models.ValidationLevel, actorID, comment string) (*models.Request, error) {
	request, err := s.gate.Validate(ctx, requestID, level, actorID, comment)
	if err != nil {
		return nil, err
	}

	if request.ValidationStatus != models.RequestValidationApproved {
		return request, nil
	}

	defs, err := s.store.TemplateRepository().SubProcessTemplatesForProcess(ctx, request.ProcessTemplateID)
	if err != nil {
		return nil, NewServiceError("ApproveValidation", "failed to load process configuration", err)
	}

	if err := s.releaseWaitingRuns(ctx, request.ID); err != nil {
		return nil, err
	}

	if err := s.startWorkflow(ctx, request, defs); err != nil {
		return nil, err
	}

	return request, nil
}

// RefuseValidation applies one gate refusal, closing the request.
func (s *RequestService) RefuseValidation(ctx context.Context, requestID string, level models.ValidationLevel, actorID, comment string) (*models.Request, error) {
	return s.gate.Refuse(ctx, requestID, level, actorID, comment)
}

// Progress returns the request with its branches and tasks.
func (s *RequestService) Progress(ctx context.Context, requestID string) (*RequestProgress, error) {
	request, err := s.store.RequestRepository().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	runs, err := s.store.RunRepository().SubProcessRunsForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	tasks, err := s.store.TaskRepository().TasksForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	return &RequestProgress{Request: request, SubProcessRuns: runs, Tasks: tasks}, nil
}

// releaseWaitingRuns flips every waiting branch to pending so block
// execution can pick it up.
func (s *RequestService) releaseWaitingRuns(ctx context.Context, requestID string) error {
	runs, err := s.store.RunRepository().SubProcessRunsForRequest(ctx, requestID)
	if err != nil {
		return NewServiceError("ApproveValidation", "failed to load sub-process runs", err)
	}

	for _, run := range runs {
		if run.Status != models.SubProcessRunStatusWaitingValidation {
			continue
		}

		err := s.store.RunRepository().UpdateSubProcessRunStatus(ctx, run.ID,
			models.SubProcessRunStatusWaitingValidation, models.SubProcessRunStatusPending, nil)
		if err != nil && !persistence.IsConflict(err) {
			return NewServiceError("ApproveValidation", "failed to release sub-process run", err)
		}
	}

	return nil
}

// startWorkflow resolves the default graph for the process (generating it
// on first use), creates the run and executes every reachable standard
// block.
func (s *RequestService) startWorkflow(ctx context.Context, request *models.Request, defs []*models.SubProcessTemplate) error {
	process, err := s.store.TemplateRepository().ProcessTemplateByID(ctx, request.ProcessTemplateID)
	if err != nil {
		return NewServiceError("startWorkflow", "failed to load process template", err)
	}

	owner := graph.Owner{ProcessTemplateID: process.ID, Name: process.Name}

	generated, err := s.generator.Generate(ctx, owner, defs, false)
	if err != nil {
		return NewServiceError("startWorkflow", "failed to resolve workflow template", err)
	}

	template := generated.Template

	subProcessIDs := make([]string, 0, len(defs))
	for _, def := range defs {
		subProcessIDs = append(subProcessIDs, def.ID)
	}

	run := &models.WorkflowRun{
		WorkflowTemplateID: template.ID,
		TemplateVersion:    template.Version,
		RequestID:          request.ID,
		Status:             models.WorkflowRunStatusRunning,
		Context: models.RunContext{
			RequesterID:           request.RequesterID,
			DepartmentID:          request.DepartmentID,
			SubProcessTemplateIDs: subProcessIDs,
			FieldValues:           request.FieldValues,
		},
	}

	if err := s.store.RunRepository().CreateWorkflowRun(ctx, run); err != nil {
		return NewServiceError("startWorkflow", "failed to create workflow run", err)
	}

	if err := s.store.RequestRepository().SetWorkflowRun(ctx, request.ID, run.ID); err != nil {
		return NewServiceError("startWorkflow", "failed to bind workflow run", err)
	}

	request.WorkflowRunID = run.ID

	err = s.store.RequestRepository().UpdateStatus(ctx, request.ID, request.Status, models.RequestStatusInProgress)
	if err != nil && !persistence.IsConflict(err) {
		return NewServiceError("startWorkflow", "failed to move request in progress", err)
	}

	request.Status = models.RequestStatusInProgress

	started := events.WorkflowRunStarted{
		BaseEvent:          events.NewBaseEvent(events.WorkflowRunStartedEvent, events.EntityTypeRequest, request.ID).WithWorkflowRun(run.ID),
		WorkflowTemplateID: template.ID,
		TemplateVersion:    template.Version,
		SubProcessCount:    len(defs),
	}
	s.emitter.Emit(ctx, request.ID, started)

	s.executeBlocks(ctx, template, request, run)

	return nil
}

// executeBlocks walks the graph's standard blocks in declaration order.
// Block failures are logged into the run's execution log and do not stop
// the remaining branches.
func (s *RequestService) executeBlocks(ctx context.Context, template *models.WorkflowTemplate, request *models.Request, run *models.WorkflowRun) {
	rc := block.RequestContext{
		RequestID:     request.ID,
		RequesterID:   request.RequesterID,
		DepartmentID:  request.DepartmentID,
		WorkflowRunID: run.ID,
	}

	for _, node := range template.StandardBlocks() {
		var cfg models.BlockConfig
		if err := models.DecodeConfig(node, &cfg); err != nil {
			s.logger.ErrorContext(ctx, "block config decode failed",
				"node_id", node.ID, "request_id", request.ID, "error", err)
			s.appendRunLog(ctx, run.ID, node.ID, fmt.Sprintf("block config decode failed: %v", err))

			continue
		}

		result := s.engine.Execute(ctx, cfg, rc)
		if result.Err != nil {
			s.logger.ErrorContext(ctx, "block execution failed",
				"node_id", node.ID, "sub_process", cfg.SubProcessName,
				"request_id", request.ID, "error", result.Err)
			s.appendRunLog(ctx, run.ID, node.ID, fmt.Sprintf("block %s failed: %v", cfg.SubProcessName, result.Err))

			continue
		}

		s.appendRunLog(ctx, run.ID, node.ID,
			fmt.Sprintf("block %s executed: %d tasks", cfg.SubProcessName, result.TaskCount))
	}
}

func (s *RequestService) appendRunLog(ctx context.Context, runID, nodeID, message string) {
	entry := models.ExecutionLogEntry{At: time.Now().UTC(), NodeID: nodeID, Message: message}

	if err := s.store.RunRepository().AppendWorkflowRunLog(ctx, runID, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to append run log", "workflow_run_id", runID, "error", err)
	}
}
