package gate

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/caseflow/caseflow/pkg/persistence/memory"
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

func (p *recordingPublisher) typesSeen() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type gateFixture struct {
	store     *memory.Persistence
	publisher *recordingPublisher
	taskGate  *TaskGate
	reqGate   *RequestGate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &recordingPublisher{}
	emitter := eventbus.NewEmitter(publisher, slog.Default())
	resolver := NewResolver(store.OrgRepository())

	return &gateFixture{
		store:     store,
		publisher: publisher,
		taskGate:  NewTaskGate(store.TaskRepository(), resolver, emitter, slog.Default()),
		reqGate:   NewRequestGate(store.RequestRepository(), resolver, emitter, slog.Default()),
	}
}

func (f *gateFixture) seedUsers(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	org := f.store.OrgRepository()

	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "worker", Name: "Worker", ManagerID: "lead"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "lead", Name: "Lead", ManagerID: "director"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "director", Name: "Director"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "outsider", Name: "Outsider"}))
}

func (f *gateFixture) seedTask(t *testing.T, mutate func(*models.Task)) *models.Task {
	t.Helper()

	task := &models.Task{
		Title:            "Review contract",
		Status:           models.TaskStatusDone,
		AssigneeID:       "worker",
		RequesterID:      "requester",
		ParentRequestID:  "req-1",
		ValidationLevel1: models.ValidatorTypeManager,
		ValidationLevel2: models.ValidatorTypeNone,
	}

	if mutate != nil {
		mutate(task)
	}

	require.NoError(t, f.store.TaskRepository().Create(context.Background(), task))

	return task
}

func TestSubmitForValidation(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	updated, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusPendingValidation1, updated.Status)
	assert.True(t, updated.IsLockedForValidation)
	assert.Equal(t, "worker", updated.OriginalAssigneeID)
	assert.Equal(t, models.ValidationStatusPending, updated.Validation1.Status)
	assert.Contains(t, f.publisher.typesSeen(), events.TaskValidationRequestedEvent)
}

func TestSubmitForValidationRejectsNonAssignee(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "lead")
	assert.ErrorIs(t, err, ErrUnauthorizedApprover)
}

func TestSubmitForValidationRequiresDoneStatus(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, func(task *models.Task) {
		task.Status = models.TaskStatusInProgress
	})

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitForValidationRejectsLockedTask(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, func(task *models.Task) {
		task.IsLockedForValidation = true
	})

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	assert.ErrorIs(t, err, ErrTaskLocked)
}

func TestValidateSingleLevelReachesValidated(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	updated, err := f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, "lead", "looks good")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusValidated, updated.Status)
	assert.False(t, updated.IsLockedForValidation)
	assert.Equal(t, "lead", updated.ValidatorID)
	assert.NotNil(t, updated.ValidatedAt)
	assert.Equal(t, models.ValidationStatusValidated, updated.Validation1.Status)
	assert.Equal(t, "looks good", updated.Validation1.Comment)
}

func TestValidateLevelOneAdvancesToLevelTwo(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, func(task *models.Task) {
		task.ValidationLevel2 = models.ValidatorTypeFree
		task.Validator2ID = "director"
	})

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	afterLevel1, err := f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, "lead", "")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusPendingValidation2, afterLevel1.Status)
	assert.True(t, afterLevel1.IsLockedForValidation)
	assert.Equal(t, models.ValidationStatusPending, afterLevel1.Validation2.Status)

	afterLevel2, err := f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel2, "director", "")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusValidated, afterLevel2.Status)
	assert.False(t, afterLevel2.IsLockedForValidation)
	assert.Equal(t, models.ValidationStatusValidated, afterLevel2.Validation2.Status)
}

func TestValidateManagerRuleClimbsReportingLine(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	// The director is two levels above the worker, still on the line.
	updated, err := f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, "director", "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusValidated, updated.Status)
}

func TestValidateRejectsUnauthorizedActors(t *testing.T) {
	tests := []struct {
		name  string
		actor string
	}{
		{"assignee cannot self-approve", "worker"},
		{"outsider not on reporting line", "outsider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t)
			f.seedUsers(t)
			task := f.seedTask(t, nil)

			_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
			require.NoError(t, err)

			_, err = f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, tt.actor, "")
			assert.ErrorIs(t, err, ErrUnauthorizedApprover)
		})
	}
}

func TestValidateRequesterRule(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, func(task *models.Task) {
		task.ValidationLevel1 = models.ValidatorTypeRequester
	})

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	_, err = f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, "lead", "")
	assert.ErrorIs(t, err, ErrUnauthorizedApprover)

	updated, err := f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, "requester", "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusValidated, updated.Status)
}

func TestRefuseRequiresComment(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	_, err = f.taskGate.Refuse(context.Background(), task.ID, models.ValidationLevel1, "lead", "   ")
	assert.ErrorIs(t, err, ErrMissingComment)

	// The precondition fires before any mutation.
	current, err := f.store.TaskRepository().GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPendingValidation1, current.Status)
}

func TestRefuseSetsRefusedAndUnlocks(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	updated, err := f.taskGate.Refuse(context.Background(), task.ID, models.ValidationLevel1, "lead", "missing signatures")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusRefused, updated.Status)
	assert.False(t, updated.IsLockedForValidation)
	assert.Equal(t, models.ValidationStatusRefused, updated.Validation1.Status)
	assert.Equal(t, "missing signatures", updated.Validation1.Comment)
	assert.Contains(t, f.publisher.typesSeen(), events.TaskRefusedEvent)
}

func TestReturnForReviewSendsTaskBackForRework(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	updated, err := f.taskGate.ReturnForReview(context.Background(), task.ID, models.ValidationLevel1, "lead", "redo the totals")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusReview, updated.Status)
	assert.False(t, updated.IsLockedForValidation)
	assert.Equal(t, models.ValidationStatusReturned, updated.Validation1.Status)
	assert.Equal(t, "redo the totals", updated.Validation1.Comment)
	assert.Contains(t, f.publisher.typesSeen(), events.TaskReturnedEvent)

	// The unlock re-opens the normal path: review resumes through
	// in_progress and the rework can be resubmitted.
	assert.True(t, models.CanTransition(updated.Status, models.TaskStatusInProgress))
}

func TestReturnForReviewRequiresComment(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	_, err = f.taskGate.ReturnForReview(context.Background(), task.ID, models.ValidationLevel1, "lead", "  ")
	assert.ErrorIs(t, err, ErrMissingComment)

	current, err := f.store.TaskRepository().GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPendingValidation1, current.Status)
}

func TestReturnForReviewRejectsUnauthorizedActor(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	_, err = f.taskGate.ReturnForReview(context.Background(), task.ID, models.ValidationLevel1, "outsider", "redo")
	assert.ErrorIs(t, err, ErrUnauthorizedApprover)
}

func TestConcurrentValidatorsExactlyOneWins(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)
	task := f.seedTask(t, nil)

	_, err := f.taskGate.SubmitForValidation(context.Background(), task.ID, "worker")
	require.NoError(t, err)

	var wg sync.WaitGroup

	results := make(chan error, 2)

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, err := f.taskGate.Validate(context.Background(), task.ID, models.ValidationLevel1, "lead", "")
		results <- err
	}()

	go func() {
		defer wg.Done()

		_, err := f.taskGate.Refuse(context.Background(), task.ID, models.ValidationLevel1, "director", "rejecting this")
		results <- err
	}()

	wg.Wait()
	close(results)

	var successes, conflicts int

	for err := range results {
		switch {
		case err == nil:
			successes++
		case persistence.IsConflict(err):
			conflicts++
		default:
			// A loser that read the winner's write fails the status
			// precondition instead of the conditional update.
			assert.ErrorIs(t, err, ErrInvalidTransition)

			conflicts++
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	final, err := f.store.TaskRepository().GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.TaskStatus{models.TaskStatusValidated, models.TaskStatusRefused}, final.Status)
}

func TestRequestGateOpen(t *testing.T) {
	f := newGateFixture(t)

	gated := &models.Request{ValidationLevels: 1, ValidationLevel1: models.ValidatorTypeManager}
	assert.True(t, f.reqGate.Open(context.Background(), gated))
	assert.Equal(t, models.RequestValidationPendingLevel1, gated.ValidationStatus)

	open := &models.Request{}
	assert.False(t, f.reqGate.Open(context.Background(), open))
	assert.Equal(t, models.RequestValidationNone, open.ValidationStatus)
}

func TestRequestGateValidateTwoLevels(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)

	request := &models.Request{
		Title:             "New laptop",
		Status:            models.RequestStatusSubmitted,
		RequesterID:       "worker",
		ProcessTemplateID: "proc-1",
		ValidationLevels:  2,
		ValidationLevel1:  models.ValidatorTypeManager,
		ValidationLevel2:  models.ValidatorTypeFree,
		Validator2ID:      "director",
	}

	require.True(t, f.reqGate.Open(context.Background(), request))
	require.NoError(t, f.store.RequestRepository().Create(context.Background(), request))

	afterLevel1, err := f.reqGate.Validate(context.Background(), request.ID, models.ValidationLevel1, "lead", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestValidationPendingLevel2, afterLevel1.ValidationStatus)

	afterLevel2, err := f.reqGate.Validate(context.Background(), request.ID, models.ValidationLevel2, "director", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestValidationApproved, afterLevel2.ValidationStatus)
}

func TestRequestGateRefuse(t *testing.T) {
	f := newGateFixture(t)
	f.seedUsers(t)

	request := &models.Request{
		Title:             "New laptop",
		Status:            models.RequestStatusSubmitted,
		RequesterID:       "worker",
		ProcessTemplateID: "proc-1",
		ValidationLevels:  1,
		ValidationLevel1:  models.ValidatorTypeManager,
	}

	require.True(t, f.reqGate.Open(context.Background(), request))
	require.NoError(t, f.store.RequestRepository().Create(context.Background(), request))

	_, err := f.reqGate.Refuse(context.Background(), request.ID, models.ValidationLevel1, "lead", "")
	assert.ErrorIs(t, err, ErrMissingComment)

	refused, err := f.reqGate.Refuse(context.Background(), request.ID, models.ValidationLevel1, "lead", "not budgeted")
	require.NoError(t, err)
	assert.Equal(t, models.RequestValidationRefused, refused.ValidationStatus)
	assert.Equal(t, models.RequestStatusRefused, refused.Status)
	assert.Contains(t, f.publisher.typesSeen(), events.RequestRefusedEvent)
}

func TestResolverHandlesManagerCycle(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	org := f.store.OrgRepository()

	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "a", Name: "A", ManagerID: "b"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "b", Name: "B", ManagerID: "a"}))

	resolver := NewResolver(org)

	isManager, err := resolver.IsManagerOf(ctx, "missing", "a")
	require.NoError(t, err)
	assert.False(t, isManager)
}
