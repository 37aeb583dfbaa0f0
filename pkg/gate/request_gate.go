package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
)

// RequestGate drives the pre-workflow approval of a request. It mirrors
// the task gate's level shape but resolves approvers against the
// requester's reporting line and gates workflow start instead of task
// completion.
type RequestGate struct {
	requests persistence.RequestRepository
	resolver *Resolver
	emitter  *eventbus.Emitter
	logger   *slog.Logger
}

// NewRequestGate creates a request validation gate.
func NewRequestGate(requests persistence.RequestRepository, resolver *Resolver, emitter *eventbus.Emitter, logger *slog.Logger) *RequestGate {
	return &RequestGate{
		requests: requests,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger.With("module", "request_gate"),
	}
}

// Open initializes the gate fields on a freshly built request, before it
// is persisted. It returns true when the gate blocks workflow start.
func (g *RequestGate) Open(ctx context.Context, request *models.Request) bool {
	if !request.RequiresValidation() {
		request.ValidationStatus = models.RequestValidationNone

		return false
	}

	request.ValidationStatus = models.RequestValidationPendingLevel1
	request.Validation1 = models.ValidationRecord{Status: models.ValidationStatusPending}

	g.logger.InfoContext(ctx, "request gated behind validation",
		"request_id", request.ID, "levels", request.ValidationLevels)

	return true
}

// NotifyOpened emits the level-1 validation request once the request row
// exists.
func (g *RequestGate) NotifyOpened(ctx context.Context, request *models.Request) {
	if !request.ValidationStatus.Pending() {
		return
	}

	requested := events.RequestValidationRequested{
		BaseEvent:   events.NewBaseEvent(events.RequestValidationRequestedEvent, events.EntityTypeRequest, request.ID),
		Level:       models.ValidationLevel1,
		ValidatorID: request.ExplicitValidatorFor(models.ValidationLevel1),
	}
	g.emitter.Emit(ctx, request.ID, requested)
}

// Validate approves one level of the request gate. The returned request
// reports Final approval through its validation status: approved means the
// caller may start the workflow.
func (g *RequestGate) Validate(ctx context.Context, requestID string, level models.ValidationLevel, actorID, comment string) (*models.Request, error) {
	request, err := g.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	expected := pendingValidationStatusFor(level)
	if request.ValidationStatus != expected {
		return nil, fmt.Errorf("request %s: %w: expected %s, have %s", requestID, ErrInvalidTransition, expected, request.ValidationStatus)
	}

	if err := g.checkApprover(ctx, request, level, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := models.ValidationRecord{
		Status:  models.ValidationStatusValidated,
		By:      actorID,
		At:      &now,
		Comment: models.NormalizeComment(comment),
	}

	final := true

	if level == models.ValidationLevel1 {
		request.Validation1 = record

		if request.ValidatorTypeFor(models.ValidationLevel2) != models.ValidatorTypeNone &&
			request.ValidatorTypeFor(models.ValidationLevel2) != "" {
			request.ValidationStatus = models.RequestValidationPendingLevel2
			request.Validation2 = models.ValidationRecord{Status: models.ValidationStatusPending}
			final = false
		}
	} else {
		request.Validation2 = record
	}

	if final {
		request.ValidationStatus = models.RequestValidationApproved
	}

	if err := g.requests.SaveValidationTransition(ctx, request, expected); err != nil {
		return nil, err
	}

	if !final {
		requested := events.RequestValidationRequested{
			BaseEvent:   events.NewBaseEvent(events.RequestValidationRequestedEvent, events.EntityTypeRequest, request.ID),
			Level:       models.ValidationLevel2,
			ValidatorID: request.ExplicitValidatorFor(models.ValidationLevel2),
		}
		g.emitter.Emit(ctx, request.ID, requested)
	}

	validated := events.RequestValidated{
		BaseEvent:   events.NewBaseEvent(events.RequestValidatedEvent, events.EntityTypeRequest, request.ID),
		Level:       level,
		ValidatedBy: actorID,
		Comment:     record.Comment,
		Final:       final,
	}
	g.emitter.Emit(ctx, request.ID, validated)

	g.logger.InfoContext(ctx, "request validation approved",
		"request_id", request.ID, "level", int(level), "actor_id", actorID, "final", final)

	return request, nil
}

// Refuse rejects one level of the request gate, closing the request. The
// comment precondition is checked before any state is read or written.
func (g *RequestGate) Refuse(ctx context.Context, requestID string, level models.ValidationLevel, actorID, comment string) (*models.Request, error) {
	comment = models.NormalizeComment(comment)
	if comment == "" {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrMissingComment)
	}

	request, err := g.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	expected := pendingValidationStatusFor(level)
	if request.ValidationStatus != expected {
		return nil, fmt.Errorf("request %s: %w: expected %s, have %s", requestID, ErrInvalidTransition, expected, request.ValidationStatus)
	}

	if err := g.checkApprover(ctx, request, level, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := models.ValidationRecord{
		Status:  models.ValidationStatusRefused,
		By:      actorID,
		At:      &now,
		Comment: comment,
	}

	if level == models.ValidationLevel1 {
		request.Validation1 = record
	} else {
		request.Validation2 = record
	}

	request.ValidationStatus = models.RequestValidationRefused
	request.Status = models.RequestStatusRefused

	if err := g.requests.SaveValidationTransition(ctx, request, expected); err != nil {
		return nil, err
	}

	refused := events.RequestRefused{
		BaseEvent: events.NewBaseEvent(events.RequestRefusedEvent, events.EntityTypeRequest, request.ID),
		Level:     level,
		RefusedBy: actorID,
		Comment:   comment,
	}
	g.emitter.Emit(ctx, request.ID, refused)

	g.logger.InfoContext(ctx, "request validation refused",
		"request_id", request.ID, "level", int(level), "actor_id", actorID)

	return request, nil
}

func (g *RequestGate) checkApprover(ctx context.Context, request *models.Request, level models.ValidationLevel, actorID string) error {
	switch request.ValidatorTypeFor(level) {
	case models.ValidatorTypeManager:
		if actorID == request.RequesterID {
			return fmt.Errorf("request %s: %w: requester cannot approve own request", request.ID, ErrUnauthorizedApprover)
		}

		isManager, err := g.resolver.IsManagerOf(ctx, actorID, request.RequesterID)
		if err != nil {
			return fmt.Errorf("failed to resolve reporting line: %w", err)
		}

		if !isManager {
			return fmt.Errorf("request %s: %w: not on requester's reporting line", request.ID, ErrUnauthorizedApprover)
		}
	case models.ValidatorTypeRequester:
		if actorID != request.RequesterID {
			return fmt.Errorf("request %s: %w: requester approval required", request.ID, ErrUnauthorizedApprover)
		}
	case models.ValidatorTypeFree:
		if actorID != request.ExplicitValidatorFor(level) {
			return fmt.Errorf("request %s: %w: not the designated validator", request.ID, ErrUnauthorizedApprover)
		}
	default:
		return fmt.Errorf("request %s: %w: level %d not configured", request.ID, ErrInvalidTransition, int(level))
	}

	return nil
}

func pendingValidationStatusFor(level models.ValidationLevel) models.RequestValidationStatus {
	if level == models.ValidationLevel2 {
		return models.RequestValidationPendingLevel2
	}

	return models.RequestValidationPendingLevel1
}
