package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/observability"
	"github.com/jonathan/session-runner/internal/runstate"
	"github.com/jonathan/session-runner/internal/schemas"
	embedded "github.com/jonathan/session-runner/schemas"
)

// Progress is a client-reported position and answer bag. A nil StepHistory
// keeps the stored history and only moves the index within it.
type Progress struct {
	StepHistory  []string
	HistoryIndex int
	Inputs       blueprint.Inputs
}

// SaveResult reports whether a progress write was applied. SavedAt is the
// run's last persisted update time either way.
type SaveResult struct {
	SavedAt time.Time
	Applied bool
}

// SaveProgress persists position and inputs of an active run. Writes to
// terminal runs are ignored and malformed payloads are dropped with a log
// line; neither is reported as an error.
func (c *Controller) SaveProgress(ctx context.Context, userID, runID uuid.UUID, p Progress) (*SaveResult, error) {
	return c.saveProgress(ctx, userID, runID, p, nil)
}

// SaveProgressJSON is SaveProgress for an undecoded inputs document. The
// document is checked against the run inputs schema before decoding.
func (c *Controller) SaveProgressJSON(ctx context.Context, userID, runID uuid.UUID, history []string, historyIndex int, inputs json.RawMessage) (*SaveResult, error) {
	p := Progress{StepHistory: history, HistoryIndex: historyIndex}

	var decodeErr error
	if len(inputs) == 0 {
		p.Inputs = blueprint.Inputs{}
	} else if err := schemas.ValidateDocument(embedded.RunInputs, inputs); err != nil {
		decodeErr = err
	} else if err := json.Unmarshal(inputs, &p.Inputs); err != nil {
		decodeErr = err
	}

	return c.saveProgress(ctx, userID, runID, p, decodeErr)
}

func (c *Controller) saveProgress(ctx context.Context, userID, runID uuid.UUID, p Progress, decodeErr error) (*SaveResult, error) {
	run, err := c.loadOwnedRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runstate.StatusActive {
		observability.ProgressSaved(observability.SaveIgnored)
		return &SaveResult{SavedAt: run.UpdatedAt, Applied: false}, nil
	}

	if decodeErr != nil {
		return c.dropProgress(run, decodeErr.Error()), nil
	}

	bp, err := c.loadBlueprint(ctx, run.BlueprintID)
	if err != nil {
		return nil, err
	}

	history := p.StepHistory
	if history == nil {
		history = run.StepHistory
	}
	inputs := p.Inputs
	if inputs == nil {
		inputs = blueprint.Inputs{}
	}
	state := runstate.State{
		Status:       runstate.StatusActive,
		StepHistory:  history,
		HistoryIndex: p.HistoryIndex,
		Inputs:       inputs,
	}
	if p.HistoryIndex >= 0 && p.HistoryIndex < len(history) {
		state.CurrentStepID = history[p.HistoryIndex]
	}

	if err := runstate.CheckInvariants(state, bp); err != nil {
		return c.dropProgress(run, err.Error()), nil
	}
	if err := validateInputs(bp, inputs); err != nil {
		return c.dropProgress(run, err.Error()), nil
	}

	savedAt, err := c.runs.SaveRunProgress(ctx, runID, db.ProgressFromState(state))
	if err != nil {
		return nil, err
	}
	if savedAt == nil {
		// the run left ACTIVE between the read and the write
		observability.ProgressSaved(observability.SaveIgnored)
		return &SaveResult{SavedAt: run.UpdatedAt, Applied: false}, nil
	}

	observability.ProgressSaved(observability.SaveApplied)
	return &SaveResult{SavedAt: *savedAt, Applied: true}, nil
}

func (c *Controller) dropProgress(run *db.SessionRun, reason string) *SaveResult {
	err := &ErrInvalidStepInput{RunID: run.ID, Reason: reason}
	log.Printf("[lifecycle] dropping progress: %v", err)
	observability.ProgressSaved(observability.SaveDropped)
	return &SaveResult{SavedAt: run.UpdatedAt, Applied: false}
}

// validateInputs checks each recorded input against the kind of its step.
func validateInputs(bp *blueprint.Blueprint, inputs blueprint.Inputs) error {
	for id, in := range inputs {
		step, _, ok := bp.Step(id)
		if !ok {
			return fmt.Errorf("inputs reference unknown step %q", id)
		}
		if err := validateStepInput(step, in); err != nil {
			return fmt.Errorf("step %s: %w", id, err)
		}
	}
	return nil
}

func validateStepInput(step *blueprint.Step, in blueprint.StepInput) error {
	if in.AnswerIndex != nil {
		if !step.Kind.IsMultipleChoice() {
			return fmt.Errorf("answerIndex not allowed on %s", step.Kind)
		}
		if *in.AnswerIndex < 0 || *in.AnswerIndex >= len(step.Options) {
			return fmt.Errorf("answerIndex %d out of range [0,%d)", *in.AnswerIndex, len(step.Options))
		}
	}
	if (in.Revealed || in.Known != nil) && step.Kind != blueprint.KindFlashcard {
		return fmt.Errorf("flashcard fields not allowed on %s", step.Kind)
	}
	if in.OX != nil && step.Kind != blueprint.KindSpeedOX {
		return fmt.Errorf("ox not allowed on %s", step.Kind)
	}
	if len(in.Connections) > 0 {
		if step.Kind != blueprint.KindMatching {
			return fmt.Errorf("connections not allowed on %s", step.Kind)
		}
		lefts := make(map[string]bool, len(step.Pairs))
		rights := make(map[string]bool, len(step.Pairs))
		for _, p := range step.Pairs {
			lefts[p.Left] = true
			rights[p.Right] = true
		}
		used := make(map[string]bool, len(in.Connections))
		for left, right := range in.Connections {
			if !lefts[left] || !rights[right] {
				return fmt.Errorf("unknown connection %q -> %q", left, right)
			}
			if used[right] {
				return fmt.Errorf("right item %q connected twice", right)
			}
			used[right] = true
		}
	}
	return nil
}
