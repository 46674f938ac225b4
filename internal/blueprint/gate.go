package blueprint

// CanAdvance reports whether the learner may leave step given the recorded inputs.
func CanAdvance(step *Step, inputs Inputs) bool {
	if step == nil {
		return false
	}
	in := inputs.Get(step.ID)

	switch step.Kind {
	case KindSessionIntro, KindConcept, KindSessionSummary:
		return true
	case KindCheck, KindCloze, KindApplication:
		return in.AnswerIndex != nil
	case KindFlashcard:
		return in.Revealed && in.Known != nil
	case KindSpeedOX:
		return in.OX != nil
	case KindMatching:
		// matching is not graded; every pair just needs a connection
		return len(in.Connections) == len(step.Pairs)
	default:
		return false
	}
}

// IsCorrect grades the recorded answer of a gradeable step. The second
// result is false when the step is not gradeable or has no answer yet.
func IsCorrect(step *Step, inputs Inputs) (correct bool, graded bool) {
	if step == nil {
		return false, false
	}
	in := inputs.Get(step.ID)

	switch {
	case step.Kind.IsMultipleChoice():
		if in.AnswerIndex == nil || step.AnswerIndex == nil {
			return false, false
		}
		return *in.AnswerIndex == *step.AnswerIndex, true
	case step.Kind == KindSpeedOX:
		if in.OX == nil || step.Answer == nil {
			return false, false
		}
		return *in.OX == *step.Answer, true
	case step.Kind == KindFlashcard:
		if in.Known == nil {
			return false, false
		}
		return *in.Known, true
	default:
		return false, false
	}
}
