package runstate

import "fmt"

// ActionPayload is the wire form of an action
type ActionPayload struct {
	Type   string `json:"type"`
	StepID string `json:"step_id,omitempty"`
	Index  *int   `json:"index,omitempty"`
	Value  *bool  `json:"value,omitempty"`
	Left   string `json:"left,omitempty"`
	Right  string `json:"right,omitempty"`
}

// DecodeAction converts a wire payload into an input or GO_PREV action.
// GO_NEXT is not decodable because its target is always resolved
// server-side; callers navigate forward through the navigator instead.
func DecodeAction(p ActionPayload) (Action, error) {
	needStep := func() error {
		if p.StepID == "" {
			return fmt.Errorf("%s requires step_id", p.Type)
		}
		return nil
	}

	switch p.Type {
	case "SET_ANSWER":
		if err := needStep(); err != nil {
			return nil, err
		}
		if p.Index == nil || *p.Index < 0 {
			return nil, fmt.Errorf("SET_ANSWER requires a non-negative index")
		}
		return SetAnswer{StepID: p.StepID, Index: *p.Index}, nil
	case "SET_FLASHCARD_REVEALED":
		if err := needStep(); err != nil {
			return nil, err
		}
		return SetFlashcardRevealed{StepID: p.StepID}, nil
	case "SET_FLASHCARD_RESULT":
		if err := needStep(); err != nil {
			return nil, err
		}
		if p.Value == nil {
			return nil, fmt.Errorf("SET_FLASHCARD_RESULT requires value")
		}
		return SetFlashcardResult{StepID: p.StepID, Known: *p.Value}, nil
	case "SET_SPEED_OX_ANSWER":
		if err := needStep(); err != nil {
			return nil, err
		}
		if p.Value == nil {
			return nil, fmt.Errorf("SET_SPEED_OX_ANSWER requires value")
		}
		return SetSpeedOXAnswer{StepID: p.StepID, Value: *p.Value}, nil
	case "SET_MATCHING_CONNECTION":
		if err := needStep(); err != nil {
			return nil, err
		}
		if p.Left == "" || p.Right == "" {
			return nil, fmt.Errorf("SET_MATCHING_CONNECTION requires left and right")
		}
		return SetMatchingConnection{StepID: p.StepID, Left: p.Left, Right: p.Right}, nil
	case "CLEAR_MATCHING":
		if err := needStep(); err != nil {
			return nil, err
		}
		return ClearMatching{StepID: p.StepID}, nil
	case "GO_PREV":
		return GoPrev{}, nil
	default:
		return nil, fmt.Errorf("unsupported action type: %q", p.Type)
	}
}
