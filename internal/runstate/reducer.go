package runstate

import "github.com/jonathan/session-runner/internal/blueprint"

// Action is one event applied to a run's state
type Action interface {
	// Name is the action's wire name, e.g. "SET_ANSWER".
	Name() string
}

// SetAnswer records the chosen option of a multiple-choice step
type SetAnswer struct {
	StepID string
	Index  int
}

// SetFlashcardRevealed marks a flashcard's back side as shown
type SetFlashcardRevealed struct {
	StepID string
}

// SetFlashcardResult records the learner's know/don't-know self grade
type SetFlashcardResult struct {
	StepID string
	Known  bool
}

// SetSpeedOXAnswer records a true/false answer
type SetSpeedOXAnswer struct {
	StepID string
	Value  bool
}

// SetMatchingConnection links a left item to a right item. A left item has at
// most one connection and a right item is used by at most one left item.
type SetMatchingConnection struct {
	StepID string
	Left   string
	Right  string
}

// ClearMatching removes every connection of a matching step
type ClearMatching struct {
	StepID string
}

// RecordCheckResult stores grading feedback for a step
type RecordCheckResult struct {
	StepID  string
	Correct bool
}

// GoPrev moves one entry back in the step history
type GoPrev struct{}

// GoNext discards forward history and appends StepID
type GoNext struct {
	StepID string
}

// BeginCompletion moves an active run to COMPLETING
type BeginCompletion struct{}

// MarkCompleted moves a run to COMPLETED
type MarkCompleted struct{}

func (SetAnswer) Name() string             { return "SET_ANSWER" }
func (SetFlashcardRevealed) Name() string  { return "SET_FLASHCARD_REVEALED" }
func (SetFlashcardResult) Name() string    { return "SET_FLASHCARD_RESULT" }
func (SetSpeedOXAnswer) Name() string      { return "SET_SPEED_OX_ANSWER" }
func (SetMatchingConnection) Name() string { return "SET_MATCHING_CONNECTION" }
func (ClearMatching) Name() string         { return "CLEAR_MATCHING" }
func (RecordCheckResult) Name() string     { return "RECORD_CHECK_RESULT" }
func (GoPrev) Name() string                { return "GO_PREV" }
func (GoNext) Name() string                { return "GO_NEXT" }
func (BeginCompletion) Name() string       { return "BEGIN_COMPLETION" }
func (MarkCompleted) Name() string         { return "MARK_COMPLETED" }

// Reduce applies action to s and returns the resulting state. s is never
// modified. Actions that are not allowed in the current status, or that
// would not change anything, return s unchanged.
func Reduce(s State, action Action) State {
	if s.Status.Terminal() {
		return s
	}

	switch action.(type) {
	case MarkCompleted:
		next := s.clone()
		next.Status = StatusCompleted
		return next
	case BeginCompletion:
		if s.Status != StatusActive {
			return s
		}
		next := s.clone()
		next.Status = StatusCompleting
		return next
	}

	// a completing run is frozen except for the final status change
	if s.Status != StatusActive {
		return s
	}

	switch a := action.(type) {
	case SetAnswer:
		return s.withInput(a.StepID, func(in *blueprint.StepInput) {
			idx := a.Index
			in.AnswerIndex = &idx
		})
	case SetFlashcardRevealed:
		return s.withInput(a.StepID, func(in *blueprint.StepInput) {
			in.Revealed = true
		})
	case SetFlashcardResult:
		return s.withInput(a.StepID, func(in *blueprint.StepInput) {
			known := a.Known
			in.Known = &known
		})
	case SetSpeedOXAnswer:
		return s.withInput(a.StepID, func(in *blueprint.StepInput) {
			v := a.Value
			in.OX = &v
		})
	case SetMatchingConnection:
		if a.Left == "" || a.Right == "" {
			return s
		}
		return s.withInput(a.StepID, func(in *blueprint.StepInput) {
			if in.Connections == nil {
				in.Connections = make(map[string]string)
			}
			for left, right := range in.Connections {
				if right == a.Right && left != a.Left {
					delete(in.Connections, left)
				}
			}
			in.Connections[a.Left] = a.Right
		})
	case ClearMatching:
		if _, ok := s.Inputs[a.StepID]; !ok {
			return s
		}
		return s.withInput(a.StepID, func(in *blueprint.StepInput) {
			in.Connections = nil
		})
	case RecordCheckResult:
		if a.StepID == "" {
			return s
		}
		next := s.clone()
		if next.CheckResults == nil {
			next.CheckResults = make(map[string]bool)
		}
		next.CheckResults[a.StepID] = a.Correct
		return next
	case GoPrev:
		if s.HistoryIndex <= 0 {
			return s
		}
		next := s.clone()
		next.HistoryIndex--
		next.CurrentStepID = next.StepHistory[next.HistoryIndex]
		return next
	case GoNext:
		if a.StepID == "" {
			return s
		}
		next := s.clone()
		next.StepHistory = append(next.StepHistory[:next.HistoryIndex+1], a.StepID)
		next.HistoryIndex = len(next.StepHistory) - 1
		next.CurrentStepID = a.StepID
		return next
	}

	return s
}

func (s State) withInput(stepID string, mutate func(in *blueprint.StepInput)) State {
	if stepID == "" {
		return s
	}
	next := s.clone()
	in := next.Inputs[stepID]
	mutate(&in)
	next.Inputs[stepID] = in
	return next
}
