package blueprint

// ResolveNext returns the id of the step that follows step.
//
// A default target wins outright. Branches are evaluated in declaration
// order and the first match wins; a branch whose condition cannot be
// evaluated is skipped. When nothing matches, or step declares no next at
// all, the positional successor in the step list is used. The boolean is
// false when step is the last step and no explicit target applies.
func ResolveNext(bp *Blueprint, step *Step, inputs Inputs) (string, bool) {
	if bp == nil || step == nil {
		return "", false
	}

	if step.Next != nil {
		if step.Next.Default != "" {
			return step.Next.Default, true
		}
		for _, branch := range step.Next.Branches {
			ok, err := EvaluateCondition(branch.Condition, bp, step, inputs)
			if err != nil || !ok {
				continue
			}
			return branch.To, true
		}
	}

	_, pos, found := bp.Step(step.ID)
	if !found || pos+1 >= len(bp.Steps) {
		return "", false
	}
	return bp.Steps[pos+1].ID, true
}

// PredictedPath follows successors from the start step and returns the ids
// visited. It stops at the first id that repeats, so cyclic branch tables
// still produce a finite path. It is used for progress display only.
func PredictedPath(bp *Blueprint, inputs Inputs) []string {
	if bp == nil {
		return nil
	}
	step, _, ok := bp.Step(bp.StartStepID)
	if !ok {
		return nil
	}

	seen := make(map[string]bool, len(bp.Steps))
	var path []string
	for step != nil {
		if seen[step.ID] {
			return path
		}
		seen[step.ID] = true
		path = append(path, step.ID)

		nextID, ok := ResolveNext(bp, step, inputs)
		if !ok {
			return path
		}
		step, _, ok = bp.Step(nextID)
		if !ok {
			return path
		}
	}
	return path
}

// ProgressInfo summarizes how far a run is along its predicted path.
type ProgressInfo struct {
	Position   int `json:"position"`
	TotalSteps int `json:"totalSteps"`
	Percent    int `json:"percent"`
}

// Progress estimates progress for a learner standing at currentStepID after
// visitedCount steps. When the current step is on the predicted path its
// position there is used; otherwise the visited count is.
func Progress(bp *Blueprint, inputs Inputs, currentStepID string, visitedCount int) ProgressInfo {
	path := PredictedPath(bp, inputs)
	total := len(path)

	position := visitedCount
	for i, id := range path {
		if id == currentStepID {
			position = i + 1
			break
		}
	}
	if position > total {
		total = position
	}
	if total == 0 {
		return ProgressInfo{}
	}

	return ProgressInfo{
		Position:   position,
		TotalSteps: total,
		Percent:    position * 100 / total,
	}
}
