package gate

import "errors"

var (
	// ErrMissingComment rejects a refusal without justification. Checked
	// before any state is touched.
	ErrMissingComment = errors.New("refusal requires a non-empty comment")

	// ErrUnauthorizedApprover rejects an actor who does not satisfy the
	// approver rule for the requested level.
	ErrUnauthorizedApprover = errors.New("actor is not an authorized approver for this level")

	// ErrInvalidTransition rejects a gate action against a status that does
	// not permit it.
	ErrInvalidTransition = errors.New("action not allowed from current status")

	// ErrTaskLocked rejects resubmission while an approval is in flight.
	ErrTaskLocked = errors.New("task is locked for validation")
)
