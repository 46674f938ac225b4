// Package blueprint provides the immutable step graph of a learning session,
// the successor resolver, and the per-step completion gate.
package blueprint

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CurrentSchemaVersion is the blueprint document version understood by this engine.
const CurrentSchemaVersion = 1

// StepKind identifies the variant of a step
type StepKind string

// Step kinds
const (
	KindSessionIntro   StepKind = "SESSION_INTRO"
	KindConcept        StepKind = "CONCEPT"
	KindCheck          StepKind = "CHECK"
	KindCloze          StepKind = "CLOZE"
	KindMatching       StepKind = "MATCHING"
	KindFlashcard      StepKind = "FLASHCARD"
	KindSpeedOX        StepKind = "SPEED_OX"
	KindApplication    StepKind = "APPLICATION"
	KindSessionSummary StepKind = "SESSION_SUMMARY"
)

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case KindSessionIntro, KindConcept, KindCheck, KindCloze, KindMatching,
		KindFlashcard, KindSpeedOX, KindApplication, KindSessionSummary:
		return true
	}
	return false
}

// IsMultipleChoice reports whether the step is answered by picking an option index.
func (k StepKind) IsMultipleChoice() bool {
	return k == KindCheck || k == KindCloze || k == KindApplication
}

// Blueprint is the authored step graph for one learning session.
// It is never mutated once loaded and may be shared between runs.
type Blueprint struct {
	SchemaVersion int    `json:"schemaVersion"`
	BlueprintID   string `json:"blueprintId"`
	StartStepID   string `json:"startStepId"`
	Steps         []Step `json:"steps"`
}

// Step is one activity within a blueprint. Which payload fields are used
// depends on Kind.
type Step struct {
	ID    string   `json:"id"`
	Kind  StepKind `json:"type"`
	Title string   `json:"title,omitempty"`
	Body  string   `json:"body,omitempty"`

	// CHECK, CLOZE, APPLICATION
	Prompt      string   `json:"prompt,omitempty"`
	Options     []string `json:"options,omitempty"`
	AnswerIndex *int     `json:"answerIndex,omitempty"`
	Explanation string   `json:"explanation,omitempty"`

	// SPEED_OX
	Statement string `json:"statement,omitempty"`
	Answer    *bool  `json:"answer,omitempty"`

	// MATCHING
	Pairs []Pair `json:"pairs,omitempty"`

	// FLASHCARD
	Front string `json:"front,omitempty"`
	Back  string `json:"back,omitempty"`

	Next *Next `json:"next,omitempty"`
}

// Pair is one left/right association of a MATCHING step
type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Next is the successor declaration of a step: either a single default
// target or an ordered list of conditional branches. A nil *Next means the
// positional successor in the step list.
type Next struct {
	Default  string   `json:"default,omitempty"`
	Branches []Branch `json:"branches,omitempty"`
}

// Branch is one conditional edge. An empty Condition always matches.
type Branch struct {
	Condition string `json:"condition,omitempty"`
	To        string `json:"to"`
}

// UnmarshalJSON accepts either a bare string ("S2") or an object with
// "default" or "branches".
func (n *Next) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var target string
		if err := json.Unmarshal(data, &target); err != nil {
			return fmt.Errorf("failed to parse next target: %w", err)
		}
		*n = Next{Default: target}
		return nil
	}

	type rawNext Next
	var raw rawNext
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse next: %w", err)
	}
	if raw.Default != "" && len(raw.Branches) > 0 {
		return fmt.Errorf("next must declare either default or branches, not both")
	}
	*n = Next(raw)
	return nil
}

// Targets returns every step id this declaration can lead to.
func (n *Next) Targets() []string {
	if n == nil {
		return nil
	}
	if n.Default != "" {
		return []string{n.Default}
	}
	targets := make([]string, 0, len(n.Branches))
	for _, b := range n.Branches {
		targets = append(targets, b.To)
	}
	return targets
}

// Step returns the step with the given id and its position in the step list.
func (bp *Blueprint) Step(id string) (*Step, int, bool) {
	for i := range bp.Steps {
		if bp.Steps[i].ID == id {
			return &bp.Steps[i], i, true
		}
	}
	return nil, -1, false
}

// IsTerminal reports whether id names a SESSION_SUMMARY step.
func (bp *Blueprint) IsTerminal(id string) bool {
	step, _, ok := bp.Step(id)
	return ok && step.Kind == KindSessionSummary
}
