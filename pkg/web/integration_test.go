package web_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// progressView mirrors the progress payload with value types for
// decoding.
type progressView struct {
	Request        models.Request         `json:"request"`
	SubProcessRuns []models.SubProcessRun `json:"sub_process_runs"`
	Tasks          []models.Task          `json:"tasks"`
}

// Full request lifecycle over HTTP: a gated submission is approved by the
// requester's manager, the workflow starts, the single task is worked to
// done, and the request closes.
func TestRequestLifecycleOverHTTP(t *testing.T) {
	env := setupTestApp(t)
	env.seedOrg(t)
	processID := env.seedProcess(t)

	resp := env.request(t, http.MethodPost, "/requests/", web.SubmitRequestBody{
		Title:             "Laptop for Alice",
		RequesterID:       "alice",
		ProcessTemplateID: processID,
		ValidationLevels:  1,
		ValidationLevel1:  models.ValidatorTypeManager,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	request := decodeBody[models.Request](t, resp)
	assert.Equal(t, models.RequestValidationPendingLevel1, request.ValidationStatus)

	// The requester cannot clear their own gate.
	resp = env.request(t, http.MethodPost, "/requests/"+request.ID+"/validations/1/approve", web.ValidationDecisionRequest{
		ActorID: "alice",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/requests/"+request.ID+"/validations/1/approve", web.ValidationDecisionRequest{
		ActorID: "bob",
		Comment: "approved",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	approved := decodeBody[models.Request](t, resp)
	assert.Equal(t, models.RequestValidationApproved, approved.ValidationStatus)
	assert.Equal(t, models.RequestStatusInProgress, approved.Status)

	// A second approval hits an already-settled gate.
	resp = env.request(t, http.MethodPost, "/requests/"+request.ID+"/validations/1/approve", web.ValidationDecisionRequest{
		ActorID: "bob",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	tasks, err := env.store.TaskRepository().TasksForRequest(context.Background(), request.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	taskID := tasks[0].ID

	for _, status := range []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusDone} {
		resp = env.request(t, http.MethodPatch, "/tasks/"+taskID+"/status", web.ChangeStatusRequest{
			Status:  status,
			ActorID: "carol",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/requests/"+request.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	progress := decodeBody[progressView](t, resp)
	assert.Equal(t, models.RequestStatusCompleted, progress.Request.Status)
	require.Len(t, progress.SubProcessRuns, 1)
	assert.Equal(t, models.SubProcessRunStatusCompleted, progress.SubProcessRuns[0].Status)
}
