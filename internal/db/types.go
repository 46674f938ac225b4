package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/runstate"
)

// Plan status constants
const (
	PlanStatusActive   = "active"
	PlanStatusPaused   = "paused"
	PlanStatusArchived = "archived"
)

// SessionRun is the persisted execution record of one learning session for one user
type SessionRun struct {
	ID             uuid.UUID        `json:"id"`
	SessionID      uuid.UUID        `json:"session_id"`
	UserID         uuid.UUID        `json:"user_id"`
	BlueprintID    string           `json:"blueprint_id"`
	Status         runstate.Status  `json:"status"`
	IsRecovery     bool             `json:"is_recovery"`
	CurrentStepID  string           `json:"current_step_id"`
	StepHistory    []string         `json:"step_history"`
	HistoryIndex   int              `json:"history_index"`
	Inputs         blueprint.Inputs `json:"inputs"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty"`
	ExitReason     *string          `json:"exit_reason,omitempty"`
	Summary        map[string]any   `json:"summary,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// Abandoned reports whether the run was ended by abandon rather than completion
func (r *SessionRun) Abandoned() bool {
	return r.Status == runstate.StatusCompleted && r.ExitReason != nil
}

// State returns the run's position and inputs as a state machine value
func (r *SessionRun) State() runstate.State {
	return runstate.Restore(r.Status, r.StepHistory, r.HistoryIndex, r.Inputs.Clone())
}

// RunProgress is the mutable part of a run written by autosave
type RunProgress struct {
	CurrentStepID string
	StepHistory   []string
	HistoryIndex  int
	Inputs        blueprint.Inputs
}

// ProgressFromState extracts the persisted fields of a state machine value
func ProgressFromState(s runstate.State) RunProgress {
	return RunProgress{
		CurrentStepID: s.CurrentStepID,
		StepHistory:   s.StepHistory,
		HistoryIndex:  s.HistoryIndex,
		Inputs:        s.Inputs,
	}
}

// LearningSession is a session definition within a learning plan, joined with
// the owning plan's user and status
type LearningSession struct {
	ID          uuid.UUID `json:"id"`
	PlanID      uuid.UUID `json:"plan_id"`
	PlanStatus  string    `json:"plan_status"`
	UserID      uuid.UUID `json:"user_id"`
	BlueprintID string    `json:"blueprint_id"`
	Title       string    `json:"title"`
	Position    int       `json:"position"`
}
