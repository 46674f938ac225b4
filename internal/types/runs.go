// Package types provides request and response shapes of the session run API.
package types

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/runstate"
)

// CreateRunRequest starts or resumes a run. The body is optional.
type CreateRunRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128,printascii"`
}

// SaveProgressRequest reports the client's position and answers. Omitting
// step_history keeps the stored history.
type SaveProgressRequest struct {
	StepHistory  []string        `json:"step_history,omitempty" validate:"omitempty,min=1,dive,required,max=128"`
	HistoryIndex *int            `json:"history_index" validate:"required,min=0"`
	Inputs       json.RawMessage `json:"inputs,omitempty"`
}

// RunActionRequest is one learner action. GO_NEXT takes no target; the
// server resolves it.
type RunActionRequest struct {
	Type   string `json:"type" validate:"required,oneof=SET_ANSWER SET_FLASHCARD_REVEALED SET_FLASHCARD_RESULT SET_SPEED_OX_ANSWER SET_MATCHING_CONNECTION CLEAR_MATCHING GO_PREV GO_NEXT"`
	StepID string `json:"step_id,omitempty" validate:"max=128"`
	Index  *int   `json:"index,omitempty" validate:"omitempty,min=0"`
	Value  *bool  `json:"value,omitempty"`
	Left   string `json:"left,omitempty" validate:"max=256"`
	Right  string `json:"right,omitempty" validate:"max=256"`
}

// AbandonRunRequest ends a run early. The body is optional.
type AbandonRunRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=256"`
}

// Payload converts the request into the state machine's wire payload
func (r *RunActionRequest) Payload() runstate.ActionPayload {
	return runstate.ActionPayload{
		Type:   r.Type,
		StepID: r.StepID,
		Index:  r.Index,
		Value:  r.Value,
		Left:   r.Left,
		Right:  r.Right,
	}
}

// Validate validates the CreateRunRequest using the validator.
func (r *CreateRunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the SaveProgressRequest using the validator.
func (r *SaveProgressRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the RunActionRequest using the validator.
func (r *RunActionRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the AbandonRunRequest using the validator.
func (r *AbandonRunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// StatusAbandoned is the API label of a run stored as COMPLETED with an exit reason
const StatusAbandoned = "ABANDONED"

// Run is a session run as returned by the API
type Run struct {
	ID            uuid.UUID               `json:"id"`
	SessionID     uuid.UUID               `json:"session_id"`
	BlueprintID   string                  `json:"blueprint_id"`
	Status        string                  `json:"status"`
	IsRecovery    bool                    `json:"is_recovery"`
	CurrentStepID string                  `json:"current_step_id"`
	StepHistory   []string                `json:"step_history"`
	HistoryIndex  int                     `json:"history_index"`
	Inputs        blueprint.Inputs        `json:"inputs"`
	ExitReason    string                  `json:"exit_reason,omitempty"`
	PredictedPath []string                `json:"predicted_path,omitempty"`
	Progress      *blueprint.ProgressInfo `json:"progress,omitempty"`
	CanGoBack     bool                    `json:"can_go_back"`
	CanAdvance    bool                    `json:"can_advance"`
	CurrentStep   *blueprint.Step         `json:"current_step,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// SaveProgressResponse reports the outcome of a progress save
type SaveProgressResponse struct {
	SavedAt time.Time `json:"saved_at"`
	Applied bool      `json:"applied"`
}

// RunActionResponse reports the outcome of a learner action
type RunActionResponse struct {
	Moved     bool   `json:"moved"`
	Reason    string `json:"reason,omitempty"`
	Completed bool   `json:"completed"`
	Run       *Run   `json:"run"`
}
