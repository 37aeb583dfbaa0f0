package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caseflow/caseflow/pkg/block"
	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/gate"
	"github.com/caseflow/caseflow/pkg/graph"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence/memory"
	"github.com/caseflow/caseflow/pkg/reconciler"
	"github.com/caseflow/caseflow/pkg/services"
	"github.com/caseflow/caseflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nullPublisher struct{}

func (nullPublisher) Publish(context.Context, string, eventbus.Event) error { return nil }

type testEnv struct {
	app   *fiber.App
	store *memory.Persistence
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewPersistence()
	emitter := eventbus.NewEmitter(nullPublisher{}, slog.Default())
	resolver := gate.NewResolver(store.OrgRepository())

	generator := graph.NewGenerator(store.WorkflowRepository(), slog.Default())
	engine := block.NewEngine(store, resolver, emitter, slog.Default())
	requestGate := gate.NewRequestGate(store.RequestRepository(), resolver, emitter, slog.Default())
	taskGate := gate.NewTaskGate(store.TaskRepository(), resolver, emitter, slog.Default())
	rec := reconciler.NewReconciler(store, emitter, slog.Default())

	requestService := services.NewRequestService(store, generator, engine, requestGate, emitter, slog.Default())
	taskService := services.NewTaskService(store, rec, nil, emitter, slog.Default())

	handlers := web.NewAPIHandlers(requestService, taskService, taskGate, store,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	r := app.Group("/requests")
	r.Post("/", handlers.SubmitRequest)
	r.Get("/:id/progress", handlers.GetRequestProgress)
	r.Post("/:id/validations/:level/approve", handlers.ApproveRequestValidation)
	r.Post("/:id/validations/:level/refuse", handlers.RefuseRequestValidation)

	tasks := app.Group("/tasks")
	tasks.Post("/status", handlers.BulkChangeTaskStatus)
	tasks.Patch("/:id/status", handlers.ChangeTaskStatus)
	tasks.Post("/:id/validation", handlers.SubmitTaskValidation)
	tasks.Post("/:id/validations/:level/approve", handlers.ApproveTaskValidation)
	tasks.Post("/:id/validations/:level/refuse", handlers.RefuseTaskValidation)
	tasks.Post("/:id/validations/:level/return", handlers.ReturnTaskForReview)

	app.Get("/health", handlers.HealthCheck)

	return &testEnv{app: app, store: store}
}

func (e *testEnv) seedOrg(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	org := e.store.OrgRepository()

	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "alice", Name: "Alice", ManagerID: "bob"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "bob", Name: "Bob"}))
	require.NoError(t, org.SaveUser(ctx, &models.User{ID: "carol", Name: "Carol", ManagerID: "bob"}))
}

func (e *testEnv) seedProcess(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	templates := e.store.TemplateRepository()

	sub := &models.SubProcessTemplate{
		Name:           "Provision laptop",
		AssignmentMode: models.AssignmentModeDirect,
		TargetUserID:   "carol",
		NotifyOnClose:  true,
		TaskTemplates: []*models.TaskTemplate{
			{Title: "Order hardware", DefaultDurationDays: 3},
		},
	}
	require.NoError(t, templates.SaveSubProcessTemplate(ctx, sub))

	process := &models.ProcessTemplate{
		Name:                  "Onboarding",
		SubProcessTemplateIDs: []string{sub.ID},
	}
	require.NoError(t, templates.SaveProcessTemplate(ctx, process))

	return process.ID
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func TestSubmitRequestEndpoint(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)
	processID := env.seedProcess(t)

	tests := []struct {
		name           string
		body           web.SubmitRequestBody
		expectedStatus int
	}{
		{
			name: "successful submission",
			body: web.SubmitRequestBody{
				Title:             "Laptop for Alice",
				RequesterID:       "alice",
				ProcessTemplateID: processID,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing title",
			body: web.SubmitRequestBody{
				RequesterID:       "alice",
				ProcessTemplateID: processID,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "title too short",
			body: web.SubmitRequestBody{
				Title:             "ab",
				RequesterID:       "alice",
				ProcessTemplateID: processID,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown process template",
			body: web.SubmitRequestBody{
				Title:             "Laptop for Alice",
				RequesterID:       "alice",
				ProcessTemplateID: "missing",
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/requests/", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				request := decodeBody[models.Request](t, resp)
				assert.NotEmpty(t, request.ID)
				assert.Equal(t, models.RequestStatusInProgress, request.Status)
			}
		})
	}
}

func TestRequestProgressEndpoint(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)
	processID := env.seedProcess(t)

	resp := env.request(t, http.MethodPost, "/requests/", web.SubmitRequestBody{
		Title:             "Laptop for Alice",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	request := decodeBody[models.Request](t, resp)

	resp = env.request(t, http.MethodGet, "/requests/"+request.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	progress := decodeBody[services.RequestProgress](t, resp)
	assert.Equal(t, request.ID, progress.Request.ID)
	assert.Len(t, progress.SubProcessRuns, 1)
	assert.Len(t, progress.Tasks, 1)

	resp = env.request(t, http.MethodGet, "/requests/missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChangeTaskStatusEndpoint(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)
	processID := env.seedProcess(t)

	resp := env.request(t, http.MethodPost, "/requests/", web.SubmitRequestBody{
		Title:             "Laptop for Alice",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	request := decodeBody[models.Request](t, resp)

	tasks, err := env.store.TaskRepository().TasksForRequest(context.Background(), request.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	taskID := tasks[0].ID

	resp = env.request(t, http.MethodPatch, "/tasks/"+taskID+"/status", web.ChangeStatusRequest{
		Status:  models.TaskStatusInProgress,
		ActorID: "carol",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	task := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)

	resp = env.request(t, http.MethodPatch, "/tasks/"+taskID+"/status", web.ChangeStatusRequest{
		Status:  models.TaskStatusTodo,
		ActorID: "carol",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Skipping a step is rejected by the transition table.
	resp = env.request(t, http.MethodPatch, "/tasks/"+taskID+"/status", web.ChangeStatusRequest{
		Status:  models.TaskStatusDone,
		ActorID: "carol",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Validation statuses only flow through the gate endpoints.
	resp = env.request(t, http.MethodPatch, "/tasks/"+taskID+"/status", web.ChangeStatusRequest{
		Status:  models.TaskStatusValidated,
		ActorID: "carol",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBulkChangeTaskStatusEndpoint(t *testing.T) {
	env := setupTestApp(t)

	ctx := context.Background()
	ids := make([]string, 0, 4)

	for i := 0; i < 4; i++ {
		status := models.TaskStatusTodo
		if i == 3 {
			status = models.TaskStatusInProgress
		}

		task := &models.Task{
			Title:       fmt.Sprintf("Task %d", i),
			Status:      status,
			RequesterID: "alice",
		}
		require.NoError(t, env.store.TaskRepository().Create(ctx, task))
		ids = append(ids, task.ID)
	}

	resp := env.request(t, http.MethodPost, "/tasks/status", web.BulkChangeStatusRequest{
		TaskIDs: ids,
		From:    models.TaskStatusTodo,
		To:      models.TaskStatusCancelled,
		ActorID: "alice",
	})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	result := decodeBody[web.BulkChangeStatusResponse](t, resp)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}

func TestTaskValidationEndpoints(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)

	ctx := context.Background()

	task := &models.Task{
		Title:            "Review contract",
		Status:           models.TaskStatusDone,
		AssigneeID:       "carol",
		RequesterID:      "alice",
		ParentRequestID:  "req-1",
		ValidationLevel1: models.ValidatorTypeManager,
	}
	require.NoError(t, env.store.TaskRepository().Create(ctx, task))

	resp := env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validation", web.SubmitValidationRequest{
		ActorID: "carol",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pending := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.TaskStatusPendingValidation1, pending.Status)

	// The assignee cannot approve their own work.
	resp = env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validations/1/approve", web.ValidationDecisionRequest{
		ActorID: "carol",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validations/1/approve", web.ValidationDecisionRequest{
		ActorID: "bob",
		Comment: "approved",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	validated := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.TaskStatusValidated, validated.Status)
}

func TestRefuseTaskValidationRequiresComment(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)

	ctx := context.Background()

	task := &models.Task{
		Title:            "Review contract",
		Status:           models.TaskStatusPendingValidation1,
		AssigneeID:       "carol",
		RequesterID:      "alice",
		ParentRequestID:  "req-1",
		ValidationLevel1: models.ValidatorTypeManager,
	}
	require.NoError(t, env.store.TaskRepository().Create(ctx, task))

	resp := env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validations/1/refuse", web.ValidationDecisionRequest{
		ActorID: "bob",
		Comment: "   ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validations/1/refuse", web.ValidationDecisionRequest{
		ActorID: "bob",
		Comment: "missing signatures",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refused := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.TaskStatusRefused, refused.Status)
}

func TestReturnTaskForReviewEndpoint(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)

	ctx := context.Background()

	task := &models.Task{
		Title:            "Review contract",
		Status:           models.TaskStatusPendingValidation1,
		AssigneeID:       "carol",
		RequesterID:      "alice",
		ParentRequestID:  "req-1",
		ValidationLevel1: models.ValidatorTypeManager,
	}
	require.NoError(t, env.store.TaskRepository().Create(ctx, task))

	// A return needs a comment telling the assignee what to rework.
	resp := env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validations/1/return", web.ValidationDecisionRequest{
		ActorID: "bob",
		Comment: "   ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/tasks/"+task.ID+"/validations/1/return", web.ValidationDecisionRequest{
		ActorID: "bob",
		Comment: "redo the totals",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	returned := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.TaskStatusReview, returned.Status)
	assert.False(t, returned.IsLockedForValidation)

	// The assignee resumes the rework through the normal status endpoint.
	resp = env.request(t, http.MethodPatch, "/tasks/"+task.ID+"/status", web.ChangeStatusRequest{
		Status:  models.TaskStatusInProgress,
		ActorID: "carol",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidationLevelParsing(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/tasks/t1/validations/3/approve", web.ValidationDecisionRequest{
		ActorID: "bob",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
