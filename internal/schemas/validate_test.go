package schemas

import (
	"testing"

	embedded "github.com/jonathan/session-runner/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument_RunInputs(t *testing.T) {
	tests := []struct {
		name      string
		document  string
		wantError bool
	}{
		{"empty bag", `{}`, false},
		{"answers", `{"S2": {"answerIndex": 1}, "F": {"revealed": true, "known": false}}`, false},
		{"matching", `{"M": {"connections": {"a": "1", "b": "2"}}}`, false},
		{"negative index", `{"S2": {"answerIndex": -1}}`, true},
		{"unknown field", `{"S2": {"score": 10}}`, true},
		{"wrong type", `{"S2": {"ox": "yes"}}`, true},
		{"not an object", `[1, 2]`, true},
		{"step input not an object", `{"S2": 3}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(embedded.RunInputs, []byte(tt.document))
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			validationErr, ok := err.(*ValidationError)
			require.True(t, ok, "error should be ValidationError type, got %T", err)
			assert.Greater(t, len(validationErr.Errors), 0)
		})
	}
}

func TestValidateDocument_Blueprint(t *testing.T) {
	valid := `{
		"schemaVersion": 1,
		"blueprintId": "bp",
		"startStepId": "S1",
		"steps": [
			{"id": "S1", "type": "SESSION_INTRO", "next": "S2"},
			{"id": "S2", "type": "CHECK", "options": ["a", "b"], "answerIndex": 0,
			 "next": {"branches": [{"condition": "correct", "to": "S3"}]}},
			{"id": "S3", "type": "SESSION_SUMMARY", "next": {"default": "S3"}}
		]
	}`
	assert.NoError(t, ValidateDocument(embedded.Blueprint, []byte(valid)))

	invalid := `{"schemaVersion": 1, "blueprintId": "bp", "startStepId": "S1",
		"steps": [{"id": "S1", "type": "VIDEO"}]}`
	err := ValidateDocument(embedded.Blueprint, []byte(invalid))
	require.Error(t, err)
	_, ok := err.(*ValidationError)
	assert.True(t, ok)
}

func TestValidateDocument_MalformedJSON(t *testing.T) {
	err := ValidateDocument(embedded.RunInputs, []byte("{ invalid json }"))
	assert.Error(t, err)
}

func TestValidateDocument_UnknownSchema(t *testing.T) {
	err := ValidateDocument("nope.schema.json", []byte("{}"))
	require.Error(t, err)
	var loadErr *SchemaLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestValidateJSONString_Valid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`
	jsonContent := `{"name": "test"}`

	err := ValidateJSONString(schemaContent, jsonContent)
	assert.NoError(t, err)
}

func TestValidateJSONString_Invalid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`
	jsonContent := `{"age": 30}`

	err := ValidateJSONString(schemaContent, jsonContent)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "S2.answerIndex", Message: "must be >= 0"},
			{Field: "S3", Message: "invalid type"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "S2.answerIndex")
	assert.Contains(t, errorMsg, "S3")
}
