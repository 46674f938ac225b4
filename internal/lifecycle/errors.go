package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSessionNotFound indicates the session id does not resolve to a session
// definition visible to the caller (NOT_FOUND_SESSION)
type ErrSessionNotFound struct {
	SessionID uuid.UUID
}

func (e *ErrSessionNotFound) Error() string {
	return fmt.Sprintf("learning session not found: %s", e.SessionID)
}

// ErrRunNotFound indicates the run does not exist or belongs to another user (NOT_FOUND_RUN)
type ErrRunNotFound struct {
	RunID uuid.UUID
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("session run not found: %s", e.RunID)
}

// ErrPlanNotActive indicates the owning plan is paused or archived (PLAN_NOT_ACTIVE)
type ErrPlanNotActive struct {
	PlanID uuid.UUID
	Status string
}

func (e *ErrPlanNotActive) Error() string {
	return fmt.Sprintf("learning plan %s is %s, not active", e.PlanID, e.Status)
}

// ErrBlueprintNotFound indicates a session references a blueprint the provider does not have
type ErrBlueprintNotFound struct {
	BlueprintID string
}

func (e *ErrBlueprintNotFound) Error() string {
	return fmt.Sprintf("blueprint not found: %s", e.BlueprintID)
}

// ErrInvalidStepInput describes a malformed progress payload
// (INVALID_STEP_INPUT). SaveProgress never returns it; it is logged and the
// payload dropped.
type ErrInvalidStepInput struct {
	RunID  uuid.UUID
	Reason string
}

func (e *ErrInvalidStepInput) Error() string {
	return fmt.Sprintf("invalid step input for run %s: %s", e.RunID, e.Reason)
}

// ErrIdempotencyKeyReused indicates a client key already started a run for a different session
type ErrIdempotencyKeyReused struct {
	Key       string
	SessionID uuid.UUID
}

func (e *ErrIdempotencyKeyReused) Error() string {
	return fmt.Sprintf("idempotency key %q already used for session %s", e.Key, e.SessionID)
}

// Code returns the stable error code of a lifecycle error anywhere in err's
// chain, or "" for other errors.
func Code(err error) string {
	var (
		sessionErr   *ErrSessionNotFound
		runErr       *ErrRunNotFound
		planErr      *ErrPlanNotActive
		inputErr     *ErrInvalidStepInput
		blueprintErr *ErrBlueprintNotFound
		keyErr       *ErrIdempotencyKeyReused
	)
	switch {
	case errors.As(err, &keyErr):
		return "IDEMPOTENCY_KEY_REUSED"
	case errors.As(err, &sessionErr):
		return "NOT_FOUND_SESSION"
	case errors.As(err, &runErr):
		return "NOT_FOUND_RUN"
	case errors.As(err, &planErr):
		return "PLAN_NOT_ACTIVE"
	case errors.As(err, &inputErr):
		return "INVALID_STEP_INPUT"
	case errors.As(err, &blueprintErr):
		return "NOT_FOUND_BLUEPRINT"
	default:
		return ""
	}
}
