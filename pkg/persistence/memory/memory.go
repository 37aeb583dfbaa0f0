// Package memory provides an in-memory Persistence implementation used by
// unit tests and local development. It honors the same conditional-update
// contract as the PostgreSQL implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/google/uuid"
)

// Persistence holds every entity in maps behind a single mutex. Values are
// copied on the way in and out so callers cannot mutate stored state.
type Persistence struct {
	mu sync.RWMutex

	processTemplates    map[string]*models.ProcessTemplate
	subProcessTemplates map[string]*models.SubProcessTemplate
	taskTemplates       map[string]*models.TaskTemplate
	workflowTemplates   map[string]*models.WorkflowTemplate
	generationAttempts  map[string]models.GenerationMarker
	workflowRuns        map[string]*models.WorkflowRun
	subProcessRuns      map[string]*models.SubProcessRun
	tasks               map[string]*models.Task
	requests            map[string]*models.Request
	users               map[string]*models.User
	groups              map[string]*models.Group
	departments         map[string]*models.Department
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		processTemplates:    make(map[string]*models.ProcessTemplate),
		subProcessTemplates: make(map[string]*models.SubProcessTemplate),
		taskTemplates:       make(map[string]*models.TaskTemplate),
		workflowTemplates:   make(map[string]*models.WorkflowTemplate),
		generationAttempts:  make(map[string]models.GenerationMarker),
		workflowRuns:        make(map[string]*models.WorkflowRun),
		subProcessRuns:      make(map[string]*models.SubProcessRun),
		tasks:               make(map[string]*models.Task),
		requests:            make(map[string]*models.Request),
		users:               make(map[string]*models.User),
		groups:              make(map[string]*models.Group),
		departments:         make(map[string]*models.Department),
	}
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository { return &templateRepo{p} }
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return &workflowRepo{p} }
func (p *Persistence) RunRepository() persistence.RunRepository           { return &runRepo{p} }
func (p *Persistence) TaskRepository() persistence.TaskRepository         { return &taskRepo{p} }
func (p *Persistence) RequestRepository() persistence.RequestRepository   { return &requestRepo{p} }
func (p *Persistence) OrgRepository() persistence.OrgRepository           { return &orgRepo{p} }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

// templateRepo

type templateRepo struct{ p *Persistence }

func (r *templateRepo) ProcessTemplateByID(_ context.Context, id string) (*models.ProcessTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	tpl, ok := r.p.processTemplates[id]
	if !ok {
		return nil, persistence.ErrProcessTemplateNotFound
	}

	copied := *tpl
	copied.SubProcessTemplateIDs = append([]string(nil), tpl.SubProcessTemplateIDs...)

	return &copied, nil
}

func (r *templateRepo) SubProcessTemplateByID(_ context.Context, id string) (*models.SubProcessTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	tpl, ok := r.p.subProcessTemplates[id]
	if !ok {
		return nil, persistence.ErrSubProcessTemplateNotFound
	}

	return r.withTaskTemplates(tpl), nil
}

func (r *templateRepo) SubProcessTemplatesForProcess(_ context.Context, processTemplateID string) ([]*models.SubProcessTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	process, ok := r.p.processTemplates[processTemplateID]
	if !ok {
		return nil, persistence.ErrProcessTemplateNotFound
	}

	templates := make([]*models.SubProcessTemplate, 0, len(process.SubProcessTemplateIDs))

	for _, id := range process.SubProcessTemplateIDs {
		tpl, ok := r.p.subProcessTemplates[id]
		if !ok {
			return nil, persistence.ErrSubProcessTemplateNotFound
		}

		templates = append(templates, r.withTaskTemplates(tpl))
	}

	return templates, nil
}

// withTaskTemplates copies a sub-process template and attaches its task
// templates in position order. Caller holds the lock.
func (r *templateRepo) withTaskTemplates(tpl *models.SubProcessTemplate) *models.SubProcessTemplate {
	copied := *tpl
	copied.TaskTemplates = nil

	for _, task := range r.p.taskTemplates {
		if task.SubProcessTemplateID == tpl.ID {
			taskCopy := *task
			copied.TaskTemplates = append(copied.TaskTemplates, &taskCopy)
		}
	}

	sort.Slice(copied.TaskTemplates, func(i, j int) bool {
		return copied.TaskTemplates[i].Position < copied.TaskTemplates[j].Position
	})

	return &copied
}

func (r *templateRepo) SaveProcessTemplate(_ context.Context, tpl *models.ProcessTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = newID()
	}

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	tpl.UpdatedAt = time.Now().UTC()

	copied := *tpl
	copied.SubProcessTemplateIDs = append([]string(nil), tpl.SubProcessTemplateIDs...)
	r.p.processTemplates[tpl.ID] = &copied

	return nil
}

func (r *templateRepo) SaveSubProcessTemplate(_ context.Context, tpl *models.SubProcessTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = newID()
	}

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	tpl.UpdatedAt = time.Now().UTC()

	copied := *tpl
	copied.TaskTemplates = nil
	r.p.subProcessTemplates[tpl.ID] = &copied

	for _, task := range tpl.TaskTemplates {
		if task.SubProcessTemplateID == "" {
			task.SubProcessTemplateID = tpl.ID
		}

		if err := r.saveTaskTemplateLocked(task); err != nil {
			return err
		}
	}

	return nil
}

func (r *templateRepo) SaveTaskTemplate(_ context.Context, tpl *models.TaskTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.saveTaskTemplateLocked(tpl)
}

func (r *templateRepo) saveTaskTemplateLocked(tpl *models.TaskTemplate) error {
	if tpl.ID == "" {
		tpl.ID = newID()
	}

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	tpl.UpdatedAt = time.Now().UTC()

	copied := *tpl
	copied.Checklist = append([]models.ChecklistItem(nil), tpl.Checklist...)
	r.p.taskTemplates[tpl.ID] = &copied

	return nil
}

// workflowRepo

type workflowRepo struct{ p *Persistence }

func (r *workflowRepo) Save(_ context.Context, template *models.WorkflowTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if template.ID == "" {
		template.ID = newID()
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}

	template.UpdatedAt = time.Now().UTC()

	r.p.workflowTemplates[template.ID] = copyWorkflowTemplate(template)

	return nil
}

func (r *workflowRepo) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	template, ok := r.p.workflowTemplates[id]
	if !ok {
		return nil, persistence.ErrWorkflowTemplateNotFound
	}

	return copyWorkflowTemplate(template), nil
}

func (r *workflowRepo) DefaultForOwner(_ context.Context, ownerID string) (*models.WorkflowTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, template := range r.p.workflowTemplates {
		if template.OwnerID() == ownerID && template.IsDefault && template.Status == models.TemplateStatusActive {
			return copyWorkflowTemplate(template), nil
		}
	}

	return nil, persistence.ErrWorkflowTemplateNotFound
}

func (r *workflowRepo) Supersede(_ context.Context, templateID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	template, ok := r.p.workflowTemplates[templateID]
	if !ok {
		return persistence.ErrWorkflowTemplateNotFound
	}

	template.Status = models.TemplateStatusSuperseded
	template.IsDefault = false
	template.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *workflowRepo) MarkGenerationAttempted(_ context.Context, marker models.GenerationMarker) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := generationKey(marker.OwnerID, marker.Version)
	if _, ok := r.p.generationAttempts[key]; ok {
		return nil
	}

	if marker.AttemptedAt.IsZero() {
		marker.AttemptedAt = time.Now().UTC()
	}

	r.p.generationAttempts[key] = marker

	return nil
}

func (r *workflowRepo) GenerationAttempted(_ context.Context, ownerID string, version int) (bool, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	_, ok := r.p.generationAttempts[generationKey(ownerID, version)]

	return ok, nil
}

func generationKey(ownerID string, version int) string {
	return fmt.Sprintf("%s#%d", ownerID, version)
}

func copyWorkflowTemplate(template *models.WorkflowTemplate) *models.WorkflowTemplate {
	copied := *template
	copied.Nodes = make([]*models.WorkflowNode, 0, len(template.Nodes))
	copied.Edges = make([]*models.WorkflowEdge, 0, len(template.Edges))

	for _, node := range template.Nodes {
		nodeCopy := *node

		if node.Config != nil {
			nodeCopy.Config = make(map[string]any, len(node.Config))
			for k, v := range node.Config {
				nodeCopy.Config[k] = v
			}
		}

		copied.Nodes = append(copied.Nodes, &nodeCopy)
	}

	for _, edge := range template.Edges {
		edgeCopy := *edge
		copied.Edges = append(copied.Edges, &edgeCopy)
	}

	return &copied
}

// runRepo

type runRepo struct{ p *Persistence }

func (r *runRepo) CreateWorkflowRun(_ context.Context, run *models.WorkflowRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if run.ID == "" {
		run.ID = newID()
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	r.p.workflowRuns[run.ID] = copyWorkflowRun(run)

	return nil
}

func (r *runRepo) WorkflowRunByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	run, ok := r.p.workflowRuns[id]
	if !ok {
		return nil, persistence.ErrWorkflowRunNotFound
	}

	return copyWorkflowRun(run), nil
}

func (r *runRepo) UpdateWorkflowRunStatus(_ context.Context, id string, expected, next models.WorkflowRunStatus, completedAt *time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.workflowRuns[id]
	if !ok || run.Status != expected {
		return persistence.NewStoreError("UpdateWorkflowRunStatus", "workflow_run", id, persistence.ErrConflict)
	}

	run.Status = next

	if completedAt != nil {
		at := *completedAt
		run.CompletedAt = &at
	}

	return nil
}

func (r *runRepo) AppendWorkflowRunLog(_ context.Context, runID string, entry models.ExecutionLogEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.workflowRuns[runID]
	if !ok {
		return persistence.ErrWorkflowRunNotFound
	}

	run.Log = append(run.Log, entry)

	return nil
}

func (r *runRepo) CreateSubProcessRun(_ context.Context, run *models.SubProcessRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if run.ID == "" {
		run.ID = newID()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	// Mirrors the unique (request_id, sub_process_template_id) constraint.
	for _, existing := range r.p.subProcessRuns {
		if existing.RequestID == run.RequestID && existing.SubProcessTemplateID == run.SubProcessTemplateID {
			return persistence.NewStoreError("CreateSubProcessRun", "sub_process_run", run.ID, persistence.ErrConflict)
		}
	}

	copied := *run
	r.p.subProcessRuns[run.ID] = &copied

	return nil
}

func (r *runRepo) SubProcessRunByID(_ context.Context, id string) (*models.SubProcessRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	run, ok := r.p.subProcessRuns[id]
	if !ok {
		return nil, persistence.ErrSubProcessRunNotFound
	}

	copied := *run

	return &copied, nil
}

func (r *runRepo) SubProcessRunsForRequest(_ context.Context, requestID string) ([]*models.SubProcessRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	runs := make([]*models.SubProcessRun, 0)

	for _, run := range r.p.subProcessRuns {
		if run.RequestID == requestID {
			copied := *run
			runs = append(runs, &copied)
		}
	}

	sortByCreatedAt(runs)

	return runs, nil
}

func (r *runRepo) SubProcessRunForTemplate(_ context.Context, requestID, subProcessTemplateID string) (*models.SubProcessRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, run := range r.p.subProcessRuns {
		if run.RequestID == requestID && run.SubProcessTemplateID == subProcessTemplateID {
			copied := *run

			return &copied, nil
		}
	}

	return nil, persistence.ErrSubProcessRunNotFound
}

func (r *runRepo) ListOpenSubProcessRuns(_ context.Context, limit int) ([]*models.SubProcessRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	runs := make([]*models.SubProcessRun, 0)

	for _, run := range r.p.subProcessRuns {
		if run.Status == models.SubProcessRunStatusRunning {
			copied := *run
			runs = append(runs, &copied)
		}
	}

	sortByCreatedAt(runs)

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (r *runRepo) UpdateSubProcessRunStatus(_ context.Context, id string, expected, next models.SubProcessRunStatus, completedAt *time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	run, ok := r.p.subProcessRuns[id]
	if !ok || run.Status != expected {
		return persistence.NewStoreError("UpdateSubProcessRunStatus", "sub_process_run", id, persistence.ErrConflict)
	}

	run.Status = next

	if next == models.SubProcessRunStatusRunning && run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}

	if completedAt != nil {
		at := *completedAt
		run.CompletedAt = &at
	}

	return nil
}

func sortByCreatedAt(runs []*models.SubProcessRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}

		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}

func copyWorkflowRun(run *models.WorkflowRun) *models.WorkflowRun {
	copied := *run
	copied.Log = append([]models.ExecutionLogEntry(nil), run.Log...)
	copied.Context.SubProcessTemplateIDs = append([]string(nil), run.Context.SubProcessTemplateIDs...)

	if run.Context.FieldValues != nil {
		copied.Context.FieldValues = make(map[string]any, len(run.Context.FieldValues))
		for k, v := range run.Context.FieldValues {
			copied.Context.FieldValues[k] = v
		}
	}

	return &copied
}

// taskRepo

type taskRepo struct{ p *Persistence }

func (r *taskRepo) Create(_ context.Context, task *models.Task) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if task.ID == "" {
		task.ID = newID()
	}

	now := time.Now().UTC()

	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	r.p.tasks[task.ID] = copyTask(task)

	return nil
}

func (r *taskRepo) GetByID(_ context.Context, id string) (*models.Task, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	task, ok := r.p.tasks[id]
	if !ok {
		return nil, persistence.ErrTaskNotFound
	}

	return copyTask(task), nil
}

func (r *taskRepo) TasksForSubProcessRun(_ context.Context, subProcessRunID string) ([]*models.Task, error) {
	return r.list(func(task *models.Task) bool {
		return task.ParentSubProcessRunID == subProcessRunID
	})
}

func (r *taskRepo) TasksForRequest(_ context.Context, requestID string) ([]*models.Task, error) {
	return r.list(func(task *models.Task) bool {
		return task.ParentRequestID == requestID
	})
}

func (r *taskRepo) list(match func(*models.Task) bool) ([]*models.Task, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	tasks := make([]*models.Task, 0)

	for _, task := range r.p.tasks {
		if match(task) {
			tasks = append(tasks, copyTask(task))
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}

		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

func (r *taskRepo) SaveTransition(_ context.Context, task *models.Task, expected models.TaskStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.tasks[task.ID]
	if !ok || stored.Status != expected {
		return persistence.NewStoreError("SaveTransition", "task", task.ID, persistence.ErrConflict)
	}

	task.UpdatedAt = time.Now().UTC()
	r.p.tasks[task.ID] = copyTask(task)

	return nil
}

func (r *taskRepo) UpdateStatusMany(_ context.Context, ids []string, expected, next models.TaskStatus) (int64, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var affected int64

	for _, id := range ids {
		task, ok := r.p.tasks[id]
		if !ok || task.Status != expected {
			continue
		}

		task.Status = next
		task.UpdatedAt = time.Now().UTC()
		affected++
	}

	return affected, nil
}

func copyTask(task *models.Task) *models.Task {
	copied := *task
	copied.Checklist = append([]models.ChecklistItem(nil), task.Checklist...)

	return &copied
}

// requestRepo

type requestRepo struct{ p *Persistence }

func (r *requestRepo) Create(_ context.Context, request *models.Request) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if request.ID == "" {
		request.ID = newID()
	}

	now := time.Now().UTC()

	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}

	request.UpdatedAt = now

	r.p.requests[request.ID] = copyRequest(request)

	return nil
}

func (r *requestRepo) GetByID(_ context.Context, id string) (*models.Request, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	request, ok := r.p.requests[id]
	if !ok {
		return nil, persistence.ErrRequestNotFound
	}

	return copyRequest(request), nil
}

func (r *requestRepo) SaveValidationTransition(_ context.Context, request *models.Request, expected models.RequestValidationStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.requests[request.ID]
	if !ok || stored.ValidationStatus != expected {
		return persistence.NewStoreError("SaveValidationTransition", "request", request.ID, persistence.ErrConflict)
	}

	request.UpdatedAt = time.Now().UTC()

	stored.Status = request.Status
	stored.ValidationStatus = request.ValidationStatus
	stored.Validation1 = request.Validation1
	stored.Validation2 = request.Validation2
	stored.UpdatedAt = request.UpdatedAt

	return nil
}

func (r *requestRepo) UpdateStatus(_ context.Context, id string, expected, next models.RequestStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	request, ok := r.p.requests[id]
	if !ok || request.Status != expected {
		return persistence.NewStoreError("UpdateStatus", "request", id, persistence.ErrConflict)
	}

	request.Status = next
	request.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *requestRepo) SetWorkflowRun(_ context.Context, requestID, workflowRunID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	request, ok := r.p.requests[requestID]
	if !ok {
		return persistence.ErrRequestNotFound
	}

	request.WorkflowRunID = workflowRunID
	request.UpdatedAt = time.Now().UTC()

	return nil
}

func copyRequest(request *models.Request) *models.Request {
	copied := *request

	if request.FieldValues != nil {
		copied.FieldValues = make(map[string]any, len(request.FieldValues))
		for k, v := range request.FieldValues {
			copied.FieldValues[k] = v
		}
	}

	return &copied
}

// orgRepo

type orgRepo struct{ p *Persistence }

func (r *orgRepo) UserByID(_ context.Context, id string) (*models.User, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	user, ok := r.p.users[id]
	if !ok {
		return nil, persistence.ErrUserNotFound
	}

	copied := *user

	return &copied, nil
}

func (r *orgRepo) GroupByID(_ context.Context, id string) (*models.Group, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	group, ok := r.p.groups[id]
	if !ok {
		return nil, persistence.ErrGroupNotFound
	}

	copied := *group
	copied.MemberIDs = append([]string(nil), group.MemberIDs...)

	return &copied, nil
}

func (r *orgRepo) DepartmentByID(_ context.Context, id string) (*models.Department, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	department, ok := r.p.departments[id]
	if !ok {
		return nil, persistence.ErrDepartmentNotFound
	}

	copied := *department
	copied.MemberIDs = append([]string(nil), department.MemberIDs...)

	return &copied, nil
}

func (r *orgRepo) SaveUser(_ context.Context, user *models.User) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if user.ID == "" {
		user.ID = newID()
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	copied := *user
	r.p.users[user.ID] = &copied

	return nil
}

func (r *orgRepo) SaveGroup(_ context.Context, group *models.Group) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if group.ID == "" {
		group.ID = newID()
	}

	copied := *group
	copied.MemberIDs = append([]string(nil), group.MemberIDs...)
	r.p.groups[group.ID] = &copied

	return nil
}

func (r *orgRepo) SaveDepartment(_ context.Context, department *models.Department) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if department.ID == "" {
		department.ID = newID()
	}

	copied := *department
	copied.MemberIDs = append([]string(nil), department.MemberIDs...)
	r.p.departments[department.ID] = &copied

	return nil
}
