package runstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAction(t *testing.T) {
	idx := 2
	yes := true

	tests := []struct {
		name    string
		payload ActionPayload
		want    Action
		wantErr bool
	}{
		{"answer", ActionPayload{Type: "SET_ANSWER", StepID: "Q", Index: &idx}, SetAnswer{StepID: "Q", Index: 2}, false},
		{"answer without index", ActionPayload{Type: "SET_ANSWER", StepID: "Q"}, nil, true},
		{"answer without step", ActionPayload{Type: "SET_ANSWER", Index: &idx}, nil, true},
		{"reveal", ActionPayload{Type: "SET_FLASHCARD_REVEALED", StepID: "F"}, SetFlashcardRevealed{StepID: "F"}, false},
		{"flashcard result", ActionPayload{Type: "SET_FLASHCARD_RESULT", StepID: "F", Value: &yes}, SetFlashcardResult{StepID: "F", Known: true}, false},
		{"flashcard result missing value", ActionPayload{Type: "SET_FLASHCARD_RESULT", StepID: "F"}, nil, true},
		{"ox", ActionPayload{Type: "SET_SPEED_OX_ANSWER", StepID: "O", Value: &yes}, SetSpeedOXAnswer{StepID: "O", Value: true}, false},
		{"connect", ActionPayload{Type: "SET_MATCHING_CONNECTION", StepID: "M", Left: "a", Right: "1"}, SetMatchingConnection{StepID: "M", Left: "a", Right: "1"}, false},
		{"connect missing right", ActionPayload{Type: "SET_MATCHING_CONNECTION", StepID: "M", Left: "a"}, nil, true},
		{"clear", ActionPayload{Type: "CLEAR_MATCHING", StepID: "M"}, ClearMatching{StepID: "M"}, false},
		{"prev", ActionPayload{Type: "GO_PREV"}, GoPrev{}, false},
		{"next is not decodable", ActionPayload{Type: "GO_NEXT", StepID: "X"}, nil, true},
		{"unknown", ActionPayload{Type: "JUMP"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAction(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
