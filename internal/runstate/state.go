// Package runstate holds the in-memory state of one session run and the pure
// reducer that applies navigation and input actions to it.
package runstate

import (
	"fmt"

	"github.com/jonathan/session-runner/internal/blueprint"
)

// Status is the lifecycle status of a run
type Status string

// Run statuses. Transitions only move forward:
// ACTIVE -> COMPLETING -> COMPLETED, or ACTIVE -> COMPLETED on abandon.
const (
	StatusActive     Status = "ACTIVE"
	StatusCompleting Status = "COMPLETING"
	StatusCompleted  Status = "COMPLETED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// rank orders statuses so transitions can be checked for monotonicity
func (s Status) rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusCompleting:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// State is the mutable position and answer bag of a run.
type State struct {
	Status        Status           `json:"status"`
	CurrentStepID string           `json:"currentStepId"`
	StepHistory   []string         `json:"stepHistory"`
	HistoryIndex  int              `json:"historyIndex"`
	Inputs        blueprint.Inputs `json:"inputs"`

	// CheckResults is UI feedback only; nothing depends on it for correctness.
	CheckResults map[string]bool `json:"checkResults,omitempty"`
}

// New returns the initial state of a run over bp.
func New(bp *blueprint.Blueprint) State {
	return State{
		Status:        StatusActive,
		CurrentStepID: bp.StartStepID,
		StepHistory:   []string{bp.StartStepID},
		HistoryIndex:  0,
		Inputs:        blueprint.Inputs{},
	}
}

// Restore rebuilds a state from persisted fields, clamping the history index
// and re-deriving the current step so the invariants hold.
func Restore(status Status, history []string, index int, inputs blueprint.Inputs) State {
	h := make([]string, len(history))
	copy(h, history)
	if inputs == nil {
		inputs = blueprint.Inputs{}
	}

	s := State{
		Status:      status,
		StepHistory: h,
		Inputs:      inputs,
	}
	if len(h) == 0 {
		return s
	}
	if index < 0 {
		index = 0
	}
	if index >= len(h) {
		index = len(h) - 1
	}
	s.HistoryIndex = index
	s.CurrentStepID = h[index]
	return s
}

// CanGoBack reports whether GoPrev would move.
func (s State) CanGoBack() bool {
	return !s.Status.Terminal() && s.HistoryIndex > 0
}

// CheckInvariants verifies the position invariants of s against bp.
func CheckInvariants(s State, bp *blueprint.Blueprint) error {
	if len(s.StepHistory) == 0 {
		return fmt.Errorf("step history is empty")
	}
	if s.HistoryIndex < 0 || s.HistoryIndex >= len(s.StepHistory) {
		return fmt.Errorf("history index %d out of range [0,%d)", s.HistoryIndex, len(s.StepHistory))
	}
	if s.StepHistory[s.HistoryIndex] != s.CurrentStepID {
		return fmt.Errorf("current step %q does not match history[%d] = %q",
			s.CurrentStepID, s.HistoryIndex, s.StepHistory[s.HistoryIndex])
	}
	if s.Status.rank() < 0 {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	if bp == nil {
		return nil
	}
	if s.StepHistory[0] != bp.StartStepID {
		return fmt.Errorf("history starts at %q, want start step %q", s.StepHistory[0], bp.StartStepID)
	}
	for _, id := range s.StepHistory {
		if _, _, ok := bp.Step(id); !ok {
			return fmt.Errorf("history references unknown step %q", id)
		}
	}
	for id := range s.Inputs {
		if _, _, ok := bp.Step(id); !ok {
			return fmt.Errorf("inputs reference unknown step %q", id)
		}
	}
	return nil
}

func (s State) clone() State {
	c := s
	c.StepHistory = make([]string, len(s.StepHistory))
	copy(c.StepHistory, s.StepHistory)
	c.Inputs = s.Inputs.Clone()
	if s.CheckResults != nil {
		c.CheckResults = make(map[string]bool, len(s.CheckResults))
		for k, v := range s.CheckResults {
			c.CheckResults[k] = v
		}
	}
	return c
}
