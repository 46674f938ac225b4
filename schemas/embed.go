// Package schemas embeds the JSON Schema documents for blueprints and run inputs.
package schemas

import "embed"

// FS holds every *.schema.json file in this directory
//
//go:embed *.schema.json
var FS embed.FS

// Schema file names
const (
	Blueprint = "blueprint.schema.json"
	RunInputs = "run_inputs.schema.json"
)
