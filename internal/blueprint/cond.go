package blueprint

import (
	"fmt"
	"strconv"
	"strings"
)

// EvaluateCondition evaluates a branch condition against the recorded inputs.
//
// Grammar:
//
//	Condition ::= Clause ( '&&' Clause )*
//	Clause    ::= Key ( ( '=' | '!=' ) Literal )?
//	Key       ::= [ StepID '.' ] ( 'answer' | 'correct' | 'known' | 'ox' | 'revealed' )
//
// Unqualified keys refer to from, the step being left. Missing values resolve
// to the empty string. A bare key is truthy when non-empty and not
// "false"/"0". An empty condition, "default" and "else" always match.
func EvaluateCondition(condition string, bp *Blueprint, from *Step, inputs Inputs) (bool, error) {
	condition = strings.TrimSpace(condition)
	switch strings.ToLower(condition) {
	case "", "default", "else", "true":
		return true, nil
	}

	for _, clause := range strings.Split(condition, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		ok, err := evalClause(clause, bp, from, inputs)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, bp *Blueprint, from *Step, inputs Inputs) (bool, error) {
	if strings.Contains(clause, "!=") {
		parts := strings.SplitN(clause, "!=", 2)
		got, err := resolveKey(strings.TrimSpace(parts[0]), bp, from, inputs)
		if err != nil {
			return false, err
		}
		return got != strings.TrimSpace(parts[1]), nil
	}
	if strings.Contains(clause, "=") {
		parts := strings.SplitN(clause, "=", 2)
		got, err := resolveKey(strings.TrimSpace(parts[0]), bp, from, inputs)
		if err != nil {
			return false, err
		}
		return got == strings.TrimSpace(parts[1]), nil
	}

	got, err := resolveKey(clause, bp, from, inputs)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(got) {
	case "", "false", "0", "no":
		return false, nil
	default:
		return true, nil
	}
}

func resolveKey(key string, bp *Blueprint, from *Step, inputs Inputs) (string, error) {
	step := from
	field := key
	if i := strings.LastIndex(key, "."); i >= 0 {
		stepID := key[:i]
		field = key[i+1:]
		s, _, ok := bp.Step(stepID)
		if !ok {
			return "", fmt.Errorf("unknown step in condition: %q", stepID)
		}
		step = s
	}
	if step == nil {
		return "", fmt.Errorf("no step to resolve %q against", key)
	}
	in := inputs.Get(step.ID)

	switch field {
	case "answer":
		if in.AnswerIndex == nil {
			return "", nil
		}
		return strconv.Itoa(*in.AnswerIndex), nil
	case "correct":
		correct, graded := IsCorrect(step, inputs)
		if !graded {
			return "", nil
		}
		return strconv.FormatBool(correct), nil
	case "known":
		return formatOptionalBool(in.Known), nil
	case "ox":
		return formatOptionalBool(in.OX), nil
	case "revealed":
		return strconv.FormatBool(in.Revealed), nil
	default:
		return "", fmt.Errorf("unknown condition key: %q", field)
	}
}

func formatOptionalBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
