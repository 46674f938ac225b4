package blueprint

import (
	"fmt"
	"strings"
)

// ValidationError lists every structural problem found in a blueprint
type ValidationError struct {
	BlueprintID string
	Problems    []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("invalid blueprint %s:\n", e.BlueprintID))
	for i, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, p))
	}
	return sb.String()
}

// Validate checks that bp is a usable step graph: unique step ids, a start
// step that exists, next targets that exist, parseable branch conditions, a
// terminal summary step, and sane per-kind payloads.
func Validate(bp *Blueprint) error {
	if bp == nil {
		return fmt.Errorf("blueprint is nil")
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if bp.SchemaVersion != CurrentSchemaVersion {
		add("unsupported schemaVersion %d", bp.SchemaVersion)
	}
	if len(bp.Steps) == 0 {
		add("blueprint has no steps")
	}

	ids := make(map[string]bool, len(bp.Steps))
	hasSummary := false
	for i, step := range bp.Steps {
		if step.ID == "" {
			add("steps[%d]: missing id", i)
			continue
		}
		if ids[step.ID] {
			add("steps[%d]: duplicate id %q", i, step.ID)
		}
		ids[step.ID] = true
		if step.Kind == KindSessionSummary {
			hasSummary = true
		}
	}

	if _, ok := ids[bp.StartStepID]; !ok {
		add("startStepId %q does not name a step", bp.StartStepID)
	}
	if len(bp.Steps) > 0 && !hasSummary {
		add("blueprint has no %s step", KindSessionSummary)
	}

	for i := range bp.Steps {
		step := &bp.Steps[i]
		for _, p := range validateStep(bp, step, ids) {
			add("step %q: %s", step.ID, p)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{BlueprintID: bp.BlueprintID, Problems: problems}
	}
	return nil
}

func validateStep(bp *Blueprint, step *Step, ids map[string]bool) []string {
	var problems []string

	if !step.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", step.Kind))
	}

	switch {
	case step.Kind.IsMultipleChoice():
		if len(step.Options) == 0 {
			problems = append(problems, "no options")
		}
		if step.AnswerIndex != nil && (*step.AnswerIndex < 0 || *step.AnswerIndex >= len(step.Options)) {
			problems = append(problems, fmt.Sprintf("answerIndex %d out of range", *step.AnswerIndex))
		}
	case step.Kind == KindMatching:
		if len(step.Pairs) == 0 {
			problems = append(problems, "no pairs")
		}
		lefts := make(map[string]bool, len(step.Pairs))
		rights := make(map[string]bool, len(step.Pairs))
		for i, p := range step.Pairs {
			if p.Left == "" || p.Right == "" {
				problems = append(problems, fmt.Sprintf("pair %d has an empty side", i))
				continue
			}
			if lefts[p.Left] {
				problems = append(problems, fmt.Sprintf("duplicate left item %q", p.Left))
			}
			if rights[p.Right] {
				problems = append(problems, fmt.Sprintf("duplicate right item %q", p.Right))
			}
			lefts[p.Left] = true
			rights[p.Right] = true
		}
	case step.Kind == KindSpeedOX:
		if step.Answer == nil {
			problems = append(problems, "missing answer")
		}
	}

	for _, target := range step.Next.Targets() {
		if !ids[target] {
			problems = append(problems, fmt.Sprintf("next target %q does not exist", target))
		}
	}
	if step.Next != nil {
		for _, branch := range step.Next.Branches {
			if _, err := EvaluateCondition(branch.Condition, bp, step, nil); err != nil {
				problems = append(problems, fmt.Sprintf("branch to %q: %v", branch.To, err))
			}
		}
	}

	return problems
}
