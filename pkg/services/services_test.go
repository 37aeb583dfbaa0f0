package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/caseflow/caseflow/pkg/block"
	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/gate"
	"github.com/caseflow/caseflow/pkg/graph"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence/memory"
	"github.com/caseflow/caseflow/pkg/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) countOf(eventType events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0

	for _, event := range p.events {
		if event.GetType() == eventType {
			count++
		}
	}

	return count
}

type serviceFixture struct {
	store     *memory.Persistence
	publisher *recordingPublisher
	requests  *RequestService
	tasks     *TaskService
	taskGate  *gate.TaskGate
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &recordingPublisher{}
	emitter := eventbus.NewEmitter(publisher, slog.Default())
	resolver := gate.NewResolver(store.OrgRepository())

	generator := graph.NewGenerator(store.WorkflowRepository(), slog.Default())
	engine := block.NewEngine(store, resolver, emitter, slog.Default())
	requestGate := gate.NewRequestGate(store.RequestRepository(), resolver, emitter, slog.Default())
	taskGate := gate.NewTaskGate(store.TaskRepository(), resolver, emitter, slog.Default())
	rec := reconciler.NewReconciler(store, emitter, slog.Default())

	return &serviceFixture{
		store:     store,
		publisher: publisher,
		requests:  NewRequestService(store, generator, engine, requestGate, emitter, slog.Default()),
		tasks:     NewTaskService(store, rec, nil, emitter, slog.Default()),
		taskGate:  taskGate,
	}
}

func (f *serviceFixture) seedUsers(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	org := f.store.OrgRepository()

	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "alice", Name: "Alice", ManagerID: "bob"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "bob", Name: "Bob"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "carol", Name: "Carol", ManagerID: "bob"}))
}

// seedProcess stores a process with the given sub-process templates, each
// carrying one task template, and returns the process ID.
func (f *serviceFixture) seedProcess(t *testing.T, subs ...*models.SubProcessTemplate) string {
	t.Helper()

	ctx := context.Background()
	templates := f.store.TemplateRepository()

	ids := make([]string, 0, len(subs))

	for i, sub := range subs {
		sub.Position = i
		require.NoError(t, templates.SaveSubProcessTemplate(ctx, sub))
		ids = append(ids, sub.ID)
	}

	process := &models.ProcessTemplate{
		Name:                  "Onboarding",
		SubProcessTemplateIDs: ids,
	}
	require.NoError(t, templates.SaveProcessTemplate(ctx, process))

	for _, sub := range subs {
		sub.ProcessTemplateID = process.ID
		require.NoError(t, templates.SaveSubProcessTemplate(ctx, sub))
	}

	return process.ID
}

func directSubProcess(name, targetUserID string) *models.SubProcessTemplate {
	return &models.SubProcessTemplate{
		Name:           name,
		AssignmentMode: models.AssignmentModeDirect,
		TargetUserID:   targetUserID,
		NotifyOnCreate: true,
		NotifyOnClose:  true,
		TaskTemplates: []*models.TaskTemplate{
			{Title: name + " task", DefaultDurationDays: 3},
		},
	}
}

// Single sub-process, direct assignment, no validation: submission creates
// one todo task for the configured user, emits the two creation notices,
// and completing the task closes the sub-process and the request.
func TestSubmitSingleSubProcessLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUsers(t)

	processID := f.seedProcess(t, directSubProcess("Provision laptop", "carol"))

	ctx := context.Background()

	request, err := f.requests.Submit(ctx, SubmitRequest{
		Title:             "Laptop for Alice",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusInProgress, request.Status)
	assert.NotEmpty(t, request.WorkflowRunID)

	tasks, err := f.store.TaskRepository().TasksForRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusTodo, tasks[0].Status)
	assert.Equal(t, "carol", tasks[0].AssigneeID)

	// S2 emits exactly one requester notice and one assignee notice.
	assert.Equal(t, 1, f.publisher.countOf(events.RequestCreatedEvent))
	assert.Equal(t, 1, f.publisher.countOf(events.TaskAssignedEvent))
	assert.Equal(t, 1, f.publisher.countOf(events.WorkflowRunStartedEvent))
	assert.Equal(t, 1, f.publisher.countOf(events.SubProcessStartedEvent))

	_, err = f.tasks.ChangeStatus(ctx, tasks[0].ID, models.TaskStatusInProgress, "carol")
	require.NoError(t, err)

	_, err = f.tasks.ChangeStatus(ctx, tasks[0].ID, models.TaskStatusDone, "carol")
	require.NoError(t, err)

	run, err := f.store.RunRepository().SubProcessRunByID(ctx, tasks[0].ParentSubProcessRunID)
	require.NoError(t, err)
	assert.Equal(t, models.SubProcessRunStatusCompleted, run.Status)

	final, err := f.store.RequestRepository().GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, final.Status)

	assert.Equal(t, 1, f.publisher.countOf(events.SubProcessCompletedEvent))
	assert.Equal(t, 1, f.publisher.countOf(events.RequestCompletedEvent))
}

// Two sub-processes, one behind a task validation level and one with
// manager assignment: the generated graph forks and joins, and the
// request-level closure fires exactly once after both branches finish.
func TestSubmitForkJoinClosesOnce(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUsers(t)

	validated := &models.SubProcessTemplate{
		Name:             "Review contract",
		AssignmentMode:   models.AssignmentModeDirect,
		TargetUserID:     "carol",
		ValidationLevels: 1,
		NotifyOnClose:    true,
		TaskTemplates: []*models.TaskTemplate{
			{Title: "Review", ValidationLevel1: models.ValidatorTypeManager},
		},
	}
	managed := &models.SubProcessTemplate{
		Name:           "Prepare badge",
		AssignmentMode: models.AssignmentModeManager,
		NotifyOnCreate: true,
		NotifyOnClose:  true,
		TaskTemplates: []*models.TaskTemplate{
			{Title: "Badge"},
		},
	}

	processID := f.seedProcess(t, validated, managed)

	ctx := context.Background()

	request, err := f.requests.Submit(ctx, SubmitRequest{
		Title:             "Onboard Dave",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
	})
	require.NoError(t, err)

	template, err := f.store.WorkflowRepository().DefaultForOwner(ctx, processID)
	require.NoError(t, err)

	forks, joins := 0, 0
	for _, node := range template.Nodes {
		switch node.Type {
		case models.NodeTypeFork:
			forks++
		case models.NodeTypeJoin:
			joins++

			var cfg models.JoinConfig
			require.NoError(t, models.DecodeConfig(node, &cfg))
			assert.Equal(t, 2, cfg.RequiredCount)
		}
	}
	assert.Equal(t, 1, forks)
	assert.Equal(t, 1, joins)

	tasks, err := f.store.TaskRepository().TasksForRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var reviewTask, badgeTask *models.Task
	for _, task := range tasks {
		switch task.Title {
		case "Review":
			reviewTask = task
		case "Badge":
			badgeTask = task
		}
	}
	require.NotNil(t, reviewTask)
	require.NotNil(t, badgeTask)

	// Manager assignment resolves through the requester's reporting line:
	// the task waits in to_assign until bob hands it out.
	assert.Equal(t, models.TaskStatusToAssign, badgeTask.Status)
	assert.Empty(t, badgeTask.AssigneeID)
	assert.Equal(t, 1, f.publisher.countOf(events.TaskToAssignEvent))

	// First branch: work it to done, then clear the validation gate.
	for _, next := range []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusDone} {
		_, err = f.tasks.ChangeStatus(ctx, reviewTask.ID, next, "carol")
		require.NoError(t, err)
	}

	_, err = f.taskGate.SubmitForValidation(ctx, reviewTask.ID, "carol")
	require.NoError(t, err)

	approved, err := f.taskGate.Validate(ctx, reviewTask.ID, models.ValidationLevel1, "bob", "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusValidated, approved.Status)

	// Validation does not go through TaskService, so reconcile explicitly
	// the way the queue consumer would.
	assert.Equal(t, 0, f.publisher.countOf(events.RequestCompletedEvent))
	f.reconcile(t, reviewTask.ParentSubProcessRunID)

	// Join not satisfied yet.
	assert.Equal(t, 0, f.publisher.countOf(events.RequestCompletedEvent))

	// Second branch: bob assigns the waiting task to himself, then works it.
	for _, next := range []models.TaskStatus{models.TaskStatusTodo, models.TaskStatusInProgress, models.TaskStatusDone} {
		_, err = f.tasks.ChangeStatus(ctx, badgeTask.ID, next, "bob")
		require.NoError(t, err)
	}

	workflowRun, err := f.store.RunRepository().WorkflowRunByID(ctx, request.WorkflowRunID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunStatusCompleted, workflowRun.Status)

	assert.Equal(t, 1, f.publisher.countOf(events.RequestCompletedEvent))
	assert.Equal(t, 1, f.publisher.countOf(events.WorkflowRunCompletedEvent))
	assert.Equal(t, 2, f.publisher.countOf(events.SubProcessCompletedEvent))
}

func (f *serviceFixture) reconcile(t *testing.T, subProcessRunID string) {
	t.Helper()

	_, err := f.tasks.reconciler.ReconcileSubProcessRun(context.Background(), subProcessRunID)
	require.NoError(t, err)
}

func TestSubmitGatedRequestWaitsForApproval(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUsers(t)

	processID := f.seedProcess(t, directSubProcess("Provision laptop", "carol"))

	ctx := context.Background()

	request, err := f.requests.Submit(ctx, SubmitRequest{
		Title:             "Laptop for Alice",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
		ValidationLevels:  1,
		ValidationLevel1:  models.ValidatorTypeManager,
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestValidationPendingLevel1, request.ValidationStatus)
	assert.Empty(t, request.WorkflowRunID)

	runs, err := f.store.RunRepository().SubProcessRunsForRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SubProcessRunStatusWaitingValidation, runs[0].Status)

	// No tasks and no workflow until the gate clears.
	tasks, err := f.store.TaskRepository().TasksForRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, 1, f.publisher.countOf(events.RequestValidationRequestedEvent))

	approved, err := f.requests.ApproveValidation(ctx, request.ID, models.ValidationLevel1, "bob", "approved")
	require.NoError(t, err)

	assert.Equal(t, models.RequestValidationApproved, approved.ValidationStatus)
	assert.Equal(t, models.RequestStatusInProgress, approved.Status)
	assert.NotEmpty(t, approved.WorkflowRunID)

	tasks, err = f.store.TaskRepository().TasksForRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusTodo, tasks[0].Status)

	runs, err = f.store.RunRepository().SubProcessRunsForRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SubProcessRunStatusRunning, runs[0].Status)
}

func TestRefuseValidationClosesRequest(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUsers(t)

	processID := f.seedProcess(t, directSubProcess("Provision laptop", "carol"))

	ctx := context.Background()

	request, err := f.requests.Submit(ctx, SubmitRequest{
		Title:             "Laptop for Alice",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
		ValidationLevels:  1,
		ValidationLevel1:  models.ValidatorTypeManager,
	})
	require.NoError(t, err)

	refused, err := f.requests.RefuseValidation(ctx, request.ID, models.ValidationLevel1, "bob", "budget exhausted")
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusRefused, refused.Status)
	assert.Equal(t, models.RequestValidationRefused, refused.ValidationStatus)

	tasks, err := f.store.TaskRepository().TasksForRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.requests.Submit(context.Background(), SubmitRequest{Title: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChangeStatusRejectsIllegalTransition(t *testing.T) {
	f := newServiceFixture(t)

	task := &models.Task{Title: "Task", Status: models.TaskStatusTodo, RequesterID: "alice"}
	require.NoError(t, f.store.TaskRepository().Create(context.Background(), task))

	_, err := f.tasks.ChangeStatus(context.Background(), task.ID, models.TaskStatusDone, "alice")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestChangeStatusRejectsGateOnlyTargets(t *testing.T) {
	f := newServiceFixture(t)

	task := &models.Task{Title: "Task", Status: models.TaskStatusDone, RequesterID: "alice"}
	require.NoError(t, f.store.TaskRepository().Create(context.Background(), task))

	for _, target := range []models.TaskStatus{
		models.TaskStatusPendingValidation1,
		models.TaskStatusPendingValidation2,
		models.TaskStatusValidated,
		models.TaskStatusRefused,
	} {
		_, err := f.tasks.ChangeStatus(context.Background(), task.ID, target, "alice")
		assert.ErrorIs(t, err, ErrGateRequired, "target %s", target)
	}
}

func TestChangeStatusRejectsLockedTask(t *testing.T) {
	f := newServiceFixture(t)

	task := &models.Task{
		Title:                 "Task",
		Status:                models.TaskStatusPendingValidation1,
		RequesterID:           "alice",
		IsLockedForValidation: true,
	}
	require.NoError(t, f.store.TaskRepository().Create(context.Background(), task))

	_, err := f.tasks.ChangeStatus(context.Background(), task.ID, models.TaskStatusInProgress, "alice")
	assert.ErrorIs(t, err, gate.ErrTaskLocked)
}

// A validator can send a pending task back to review; the assignee then
// resumes through in_progress, finishes again and the gate clears.
func TestReturnedTaskResumesThroughReview(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUsers(t)

	ctx := context.Background()

	task := &models.Task{
		Title:            "Review contract",
		Status:           models.TaskStatusDone,
		AssigneeID:       "carol",
		RequesterID:      "alice",
		ParentRequestID:  "req-1",
		ValidationLevel1: models.ValidatorTypeManager,
	}
	require.NoError(t, f.store.TaskRepository().Create(ctx, task))

	_, err := f.taskGate.SubmitForValidation(ctx, task.ID, "carol")
	require.NoError(t, err)

	returned, err := f.taskGate.ReturnForReview(ctx, task.ID, models.ValidationLevel1, "bob", "wrong template used")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReview, returned.Status)

	// The unlock re-opens the normal transition path for the rework.
	for _, next := range []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusDone} {
		_, err = f.tasks.ChangeStatus(ctx, task.ID, next, "carol")
		require.NoError(t, err)
	}

	_, err = f.taskGate.SubmitForValidation(ctx, task.ID, "carol")
	require.NoError(t, err)

	approved, err := f.taskGate.Validate(ctx, task.ID, models.ValidationLevel1, "bob", "fixed")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusValidated, approved.Status)
}

func TestChangeStatusEmitsWhenTemplateOptsIn(t *testing.T) {
	f := newServiceFixture(t)

	ctx := context.Background()

	sub := &models.SubProcessTemplate{
		Name:                 "Noisy",
		AssignmentMode:       models.AssignmentModeDirect,
		NotifyOnStatusChange: true,
	}
	require.NoError(t, f.store.TemplateRepository().SaveSubProcessTemplate(ctx, sub))

	run := &models.SubProcessRun{
		RequestID:            "req-1",
		SubProcessTemplateID: sub.ID,
		Name:                 "Noisy",
		Status:               models.SubProcessRunStatusRunning,
	}
	require.NoError(t, f.store.RunRepository().CreateSubProcessRun(ctx, run))

	task := &models.Task{
		Title:                 "Task",
		Status:                models.TaskStatusTodo,
		RequesterID:           "alice",
		ParentRequestID:       "req-1",
		ParentSubProcessRunID: run.ID,
	}
	require.NoError(t, f.store.TaskRepository().Create(ctx, task))

	_, err := f.tasks.ChangeStatus(ctx, task.ID, models.TaskStatusInProgress, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, f.publisher.countOf(events.TaskStatusChangedEvent))
}

func TestChangeStatusSilentWhenTemplateOptsOut(t *testing.T) {
	f := newServiceFixture(t)

	ctx := context.Background()

	sub := &models.SubProcessTemplate{
		Name:           "Quiet",
		AssignmentMode: models.AssignmentModeDirect,
	}
	require.NoError(t, f.store.TemplateRepository().SaveSubProcessTemplate(ctx, sub))

	run := &models.SubProcessRun{
		RequestID:            "req-1",
		SubProcessTemplateID: sub.ID,
		Name:                 "Quiet",
		Status:               models.SubProcessRunStatusRunning,
	}
	require.NoError(t, f.store.RunRepository().CreateSubProcessRun(ctx, run))

	task := &models.Task{
		Title:                 "Task",
		Status:                models.TaskStatusTodo,
		RequesterID:           "alice",
		ParentRequestID:       "req-1",
		ParentSubProcessRunID: run.ID,
	}
	require.NoError(t, f.store.TaskRepository().Create(ctx, task))

	_, err := f.tasks.ChangeStatus(ctx, task.ID, models.TaskStatusInProgress, "alice")
	require.NoError(t, err)

	assert.Equal(t, 0, f.publisher.countOf(events.TaskStatusChangedEvent))
}

func TestBulkChangeStatusChunksAndCounts(t *testing.T) {
	f := newServiceFixture(t)

	ctx := context.Background()

	ids := make([]string, 0, 120)

	for i := 0; i < 120; i++ {
		status := models.TaskStatusTodo
		// A quarter of the tasks are not in the expected status and must
		// count as failed without aborting the batch.
		if i%4 == 0 {
			status = models.TaskStatusInProgress
		}

		task := &models.Task{
			Title:       fmt.Sprintf("Task %d", i),
			Status:      status,
			RequesterID: "alice",
		}
		require.NoError(t, f.store.TaskRepository().Create(ctx, task))
		ids = append(ids, task.ID)
	}

	succeeded, err := f.tasks.BulkChangeStatus(ctx, ids, models.TaskStatusTodo, models.TaskStatusCancelled, "alice")

	assert.Equal(t, 90, succeeded)

	var partial *PartialBatchError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 90, partial.Succeeded)
	assert.Equal(t, 30, partial.Failed)
}

func TestBulkChangeStatusRejectsIllegalTransition(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.tasks.BulkChangeStatus(context.Background(), []string{"t1"},
		models.TaskStatusTodo, models.TaskStatusDone, "alice")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestProgressReturnsRequestBranchesAndTasks(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUsers(t)

	processID := f.seedProcess(t,
		directSubProcess("First", "carol"),
		directSubProcess("Second", "carol"))

	ctx := context.Background()

	request, err := f.requests.Submit(ctx, SubmitRequest{
		Title:             "Two branches",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
	})
	require.NoError(t, err)

	progress, err := f.requests.Progress(ctx, request.ID)
	require.NoError(t, err)

	assert.Equal(t, request.ID, progress.Request.ID)
	assert.Len(t, progress.SubProcessRuns, 2)
	assert.Len(t, progress.Tasks, 2)
}
