package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/autosave"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/observability"
	"github.com/jonathan/session-runner/internal/runstate"
)

// Reasons a GoNext request did not move
const (
	RejectTerminal    = "terminal"
	RejectBlocked     = "blocked"
	RejectNoSuccessor = "no_successor"
)

// NavResult is the outcome of a navigation request
type NavResult struct {
	Moved bool
	// Reason is set when Moved is false.
	Reason    string
	Completed bool
	State     runstate.State
}

// Navigator drives one live run: it applies learner actions to the local
// state, autosaves changes, and completes the run when the summary step is
// reached. Methods are safe for concurrent use but are meant for a single
// learner.
type Navigator struct {
	ctrl   *Controller
	userID uuid.UUID
	runID  uuid.UUID
	bp     *blueprint.Blueprint

	mu    sync.Mutex
	state runstate.State
	saver *autosave.Scheduler[runstate.State]
}

// Open loads a run and returns a navigator over it.
func (c *Controller) Open(ctx context.Context, userID, runID uuid.UUID) (*Navigator, error) {
	run, err := c.loadOwnedRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	bp, err := c.loadBlueprint(ctx, run.BlueprintID)
	if err != nil {
		return nil, err
	}

	n := &Navigator{
		ctrl:   c,
		userID: userID,
		runID:  runID,
		bp:     bp,
		state:  run.State(),
	}
	n.saver = autosave.New(c.cfg.AutosaveInterval, n.persist, autosave.WithSaveTimeout(c.cfg.SaveTimeout))
	return n, nil
}

// persist writes a snapshot through the same checks as client saves.
func (n *Navigator) persist(ctx context.Context, s runstate.State) error {
	_, err := n.ctrl.SaveProgress(ctx, n.userID, n.runID, Progress{
		StepHistory:  s.StepHistory,
		HistoryIndex: s.HistoryIndex,
		Inputs:       s.Inputs,
	})
	return err
}

// RunID returns the id of the run being driven
func (n *Navigator) RunID() uuid.UUID { return n.runID }

// Blueprint returns the run's blueprint
func (n *Navigator) Blueprint() *blueprint.Blueprint { return n.bp }

// State returns the current local state
func (n *Navigator) State() runstate.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// CurrentStep returns the step the learner is on
func (n *Navigator) CurrentStep() *blueprint.Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	step, _, _ := n.bp.Step(n.state.CurrentStepID)
	return step
}

// Snapshot renders the local state the same way Controller.GetRun renders stored state.
func (n *Navigator) Snapshot(run *db.SessionRun) *Snapshot {
	return newSnapshot(run, n.bp, n.State())
}

// Apply dispatches an input action or GoPrev. Actions that do not fit the
// blueprint, or arrive after completion began, are ignored. Changes are
// autosaved. GoNext must go through Navigator.GoNext.
func (n *Navigator) Apply(action runstate.Action) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch action.(type) {
	case runstate.GoNext, runstate.BeginCompletion, runstate.MarkCompleted:
		return false, fmt.Errorf("action %s is not dispatched directly", action.Name())
	}

	if !n.accepts(action) {
		return false, nil
	}

	next := runstate.Reduce(n.state, action)
	if stepID := inputStepID(action); stepID != "" {
		step, _, _ := n.bp.Step(stepID)
		if correct, graded := blueprint.IsCorrect(step, next.Inputs); graded {
			next = runstate.Reduce(next, runstate.RecordCheckResult{StepID: stepID, Correct: correct})
		}
	}

	changed := !sameProgress(n.state, next)
	n.state = next
	if changed {
		n.saver.Schedule(next)
		observability.ProgressSaved(observability.SaveDeferred)
	}
	return changed, nil
}

// accepts checks that an input action targets an existing step of a fitting kind.
func (n *Navigator) accepts(action runstate.Action) bool {
	stepID := inputStepID(action)
	if stepID == "" {
		_, isPrev := action.(runstate.GoPrev)
		return isPrev
	}
	step, _, ok := n.bp.Step(stepID)
	if !ok {
		return false
	}

	switch a := action.(type) {
	case runstate.SetAnswer:
		return step.Kind.IsMultipleChoice() && a.Index >= 0 && a.Index < len(step.Options)
	case runstate.SetFlashcardRevealed, runstate.SetFlashcardResult:
		return step.Kind == blueprint.KindFlashcard
	case runstate.SetSpeedOXAnswer:
		return step.Kind == blueprint.KindSpeedOX
	case runstate.SetMatchingConnection:
		if step.Kind != blueprint.KindMatching {
			return false
		}
		var left, right bool
		for _, p := range step.Pairs {
			left = left || p.Left == a.Left
			right = right || p.Right == a.Right
		}
		return left && right
	case runstate.ClearMatching:
		return step.Kind == blueprint.KindMatching
	case runstate.RecordCheckResult:
		return true
	}
	return false
}

func inputStepID(action runstate.Action) string {
	switch a := action.(type) {
	case runstate.SetAnswer:
		return a.StepID
	case runstate.SetFlashcardRevealed:
		return a.StepID
	case runstate.SetFlashcardResult:
		return a.StepID
	case runstate.SetSpeedOXAnswer:
		return a.StepID
	case runstate.SetMatchingConnection:
		return a.StepID
	case runstate.ClearMatching:
		return a.StepID
	case runstate.RecordCheckResult:
		return a.StepID
	}
	return ""
}

// sameProgress reports whether two states persist identically. Check
// results are feedback only and not compared.
func sameProgress(a, b runstate.State) bool {
	if a.Status != b.Status || a.HistoryIndex != b.HistoryIndex || len(a.StepHistory) != len(b.StepHistory) {
		return false
	}
	for i := range a.StepHistory {
		if a.StepHistory[i] != b.StepHistory[i] {
			return false
		}
	}
	if len(a.Inputs) != len(b.Inputs) {
		return false
	}
	for id, x := range a.Inputs {
		y, ok := b.Inputs[id]
		if !ok || !sameInput(x, y) {
			return false
		}
	}
	return true
}

func sameInput(x, y blueprint.StepInput) bool {
	if x.Revealed != y.Revealed || !sameIntPtr(x.AnswerIndex, y.AnswerIndex) ||
		!sameBoolPtr(x.Known, y.Known) || !sameBoolPtr(x.OX, y.OX) ||
		len(x.Connections) != len(y.Connections) {
		return false
	}
	for l, r := range x.Connections {
		if y.Connections[l] != r {
			return false
		}
	}
	return true
}

func sameIntPtr(a, b *int) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func sameBoolPtr(a, b *bool) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

// GoPrev moves back one history entry. It reports whether the position changed.
func (n *Navigator) GoPrev() bool {
	moved, _ := n.Apply(runstate.GoPrev{})
	return moved
}

// GoNext advances to the resolved successor of the current step. Moving onto
// the summary step persists the final snapshot synchronously and completes
// the run before the local state changes. A run left on the summary step, or
// left COMPLETING, by an earlier failed completion is completed again.
func (n *Navigator) GoNext(ctx context.Context) (*NavResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.state.Status == runstate.StatusCompleting:
		return n.finish(ctx, n.state)
	case n.state.Status != runstate.StatusActive:
		return n.reject(RejectTerminal), nil
	case n.bp.IsTerminal(n.state.CurrentStepID):
		return n.finish(ctx, n.state)
	}

	step, _, ok := n.bp.Step(n.state.CurrentStepID)
	if !ok {
		return n.reject(RejectNoSuccessor), nil
	}
	if !blueprint.CanAdvance(step, n.state.Inputs) {
		return n.reject(RejectBlocked), nil
	}
	target, ok := blueprint.ResolveNext(n.bp, step, n.state.Inputs)
	if !ok {
		return n.reject(RejectNoSuccessor), nil
	}
	if _, _, exists := n.bp.Step(target); !exists {
		log.Printf("[lifecycle] run %s: step %s resolves to unknown step %s", n.runID, step.ID, target)
		return n.reject(RejectNoSuccessor), nil
	}

	next := runstate.Reduce(n.state, runstate.GoNext{StepID: target})

	if !n.bp.IsTerminal(target) {
		n.state = next
		n.saver.Schedule(next)
		observability.ProgressSaved(observability.SaveDeferred)
		return &NavResult{Moved: true, State: next}, nil
	}

	n.saver.Schedule(next)
	return n.finish(ctx, next)
}

// finish writes pending progress and completes the run. The local state only
// becomes final once the stored run is COMPLETED, so a failure here can be
// retried with another GoNext.
func (n *Navigator) finish(ctx context.Context, final runstate.State) (*NavResult, error) {
	if err := n.saver.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to save final progress: %w", err)
	}
	if _, err := n.ctrl.Complete(ctx, n.userID, n.runID); err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}

	n.state = runstate.Reduce(runstate.Reduce(final, runstate.BeginCompletion{}), runstate.MarkCompleted{})
	n.saver.Cancel()
	return &NavResult{Moved: true, Completed: true, State: n.state}, nil
}

func (n *Navigator) reject(reason string) *NavResult {
	observability.NavigationRejected(reason)
	return &NavResult{Moved: false, Reason: reason, State: n.state}
}

// Exit writes any pending autosave. The run stays resumable.
func (n *Navigator) Exit(ctx context.Context) error {
	return n.saver.Flush(ctx)
}

// Abandon flushes pending progress and then ends the run early.
func (n *Navigator) Abandon(ctx context.Context, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Status.Terminal() {
		return nil
	}
	if err := n.saver.Flush(ctx); err != nil {
		return fmt.Errorf("failed to save progress before abandon: %w", err)
	}
	if _, err := n.ctrl.Abandon(ctx, n.userID, n.runID, reason); err != nil {
		return err
	}
	n.state = runstate.Reduce(n.state, runstate.MarkCompleted{})
	n.saver.Cancel()
	return nil
}

// Close flushes pending progress and stops autosaving.
func (n *Navigator) Close(ctx context.Context) error {
	return n.saver.Close(ctx)
}

// Dispatch opens the run, applies one action and writes the result before
// returning. GoNext targets are always resolved, so the StepID of a GoNext
// action is ignored.
func (c *Controller) Dispatch(ctx context.Context, userID, runID uuid.UUID, action runstate.Action) (*NavResult, error) {
	n, err := c.Open(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	var result *NavResult
	if _, ok := action.(runstate.GoNext); ok {
		result, err = n.GoNext(ctx)
	} else {
		var changed bool
		changed, err = n.Apply(action)
		result = &NavResult{Moved: changed, State: n.State()}
	}
	if err != nil {
		n.saver.Cancel()
		return nil, err
	}

	if err := n.Close(ctx); err != nil {
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}
	return result, nil
}
