package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/caseflow/caseflow/pkg/gate"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/caseflow/caseflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	requestService *services.RequestService
	taskService    *services.TaskService
	taskGate       *gate.TaskGate
	store          persistence.Persistence
	validator      *validator.Validate
}

func NewAPIHandlers(
	requestService *services.RequestService,
	taskService *services.TaskService,
	taskGate *gate.TaskGate,
	store persistence.Persistence,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		requestService: requestService,
		taskService:    taskService,
		taskGate:       taskGate,
		store:          store,
		validator:      validate,
	}
}

func (h *APIHandlers) SubmitRequest(c fiber.Ctx) error {
	var body SubmitRequestBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.requestService.Submit(c.Context(), services.SubmitRequest{
		Title:             body.Title,
		Description:       body.Description,
		RequesterID:       body.RequesterID,
		DepartmentID:      body.DepartmentID,
		ProcessTemplateID: body.ProcessTemplateID,
		FieldValues:       body.FieldValues,
		ValidationLevels:  body.ValidationLevels,
		ValidationLevel1:  body.ValidationLevel1,
		ValidationLevel2:  body.ValidationLevel2,
		Validator1ID:      body.Validator1ID,
		Validator2ID:      body.Validator2ID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(request)
}

func (h *APIHandlers) GetRequestProgress(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	progress, err := h.requestService.Progress(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) ApproveRequestValidation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	level, err := parseValidationLevel(c.Params("level"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var body ValidationDecisionRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.requestService.ApproveValidation(c.Context(), id, level, body.ActorID, body.Comment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) RefuseRequestValidation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	level, err := parseValidationLevel(c.Params("level"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var body ValidationDecisionRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.requestService.RefuseValidation(c.Context(), id, level, body.ActorID, body.Comment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) ChangeTaskStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	var body ChangeStatusRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskService.ChangeStatus(c.Context(), id, body.Status, body.ActorID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) BulkChangeTaskStatus(c fiber.Ctx) error {
	var body BulkChangeStatusRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	succeeded, err := h.taskService.BulkChangeStatus(c.Context(), body.TaskIDs, body.From, body.To, body.ActorID)
	if err != nil {
		var partial *services.PartialBatchError
		if errors.As(err, &partial) {
			response := BulkChangeStatusResponse{
				Succeeded: partial.Succeeded,
				Failed:    partial.Failed,
			}

			for _, chunkErr := range partial.ChunkErrors {
				response.Errors = append(response.Errors, chunkErr.Error())
			}

			return c.Status(fiber.StatusMultiStatus).JSON(response)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(BulkChangeStatusResponse{Succeeded: succeeded})
}

func (h *APIHandlers) SubmitTaskValidation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	var body SubmitValidationRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskGate.SubmitForValidation(c.Context(), id, body.ActorID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) ApproveTaskValidation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	level, err := parseValidationLevel(c.Params("level"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var body ValidationDecisionRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskGate.Validate(c.Context(), id, level, body.ActorID, body.Comment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) RefuseTaskValidation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	level, err := parseValidationLevel(c.Params("level"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var body ValidationDecisionRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskGate.Refuse(c.Context(), id, level, body.ActorID, body.Comment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) ReturnTaskForReview(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	level, err := parseValidationLevel(c.Params("level"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var body ValidationDecisionRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskGate.ReturnForReview(c.Context(), id, level, body.ActorID, body.Comment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Caseflow API is healthy"
	httpStatus := http.StatusOK

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Caseflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func parseValidationLevel(raw string) (models.ValidationLevel, error) {
	level, err := strconv.Atoi(raw)
	if err != nil || (level != 1 && level != 2) {
		return 0, errors.New("validation level must be 1 or 2")
	}

	return models.ValidationLevel(level), nil
}
