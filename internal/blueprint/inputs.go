package blueprint

// StepInput is everything recorded for a single step. Only the fields that
// matter for the step's kind are set.
type StepInput struct {
	AnswerIndex *int              `json:"answerIndex,omitempty"`
	Revealed    bool              `json:"revealed,omitempty"`
	Known       *bool             `json:"known,omitempty"`
	OX          *bool             `json:"ox,omitempty"`
	Connections map[string]string `json:"connections,omitempty"`
}

// Inputs is the answer bag of a run, keyed by step id.
type Inputs map[string]StepInput

// Get returns the recorded input for stepID, or the zero value.
func (in Inputs) Get(stepID string) StepInput {
	if in == nil {
		return StepInput{}
	}
	return in[stepID]
}

// Clone returns a deep copy so reducers never share maps between states.
func (in Inputs) Clone() Inputs {
	out := make(Inputs, len(in))
	for id, v := range in {
		c := v
		if v.AnswerIndex != nil {
			idx := *v.AnswerIndex
			c.AnswerIndex = &idx
		}
		if v.Known != nil {
			known := *v.Known
			c.Known = &known
		}
		if v.OX != nil {
			ox := *v.OX
			c.OX = &ox
		}
		if v.Connections != nil {
			c.Connections = make(map[string]string, len(v.Connections))
			for l, r := range v.Connections {
				c.Connections[l] = r
			}
		}
		out[id] = c
	}
	return out
}
