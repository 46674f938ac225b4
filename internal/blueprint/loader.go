package blueprint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Parse decodes a blueprint document. YAML documents are converted to their
// JSON form first so both formats share one set of decoding rules.
func Parse(data []byte, format string) (*Blueprint, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse blueprint YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert blueprint YAML: %w", err)
		}
		data = converted
	case "json", "":
	default:
		return nil, fmt.Errorf("unsupported blueprint format: %s", format)
	}

	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint JSON: %w", err)
	}
	return &bp, nil
}

// LoadFile reads and parses a blueprint file, picking the format from its extension.
func LoadFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint file %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// FileProvider serves blueprints from a directory of <blueprintId>.json,
// .yaml or .yml files. Parsed blueprints are cached since they never change.
type FileProvider struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Blueprint
}

// NewFileProvider creates a provider rooted at dir
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{
		dir:   dir,
		cache: make(map[string]*Blueprint),
	}
}

// GetBlueprint returns the blueprint with the given id, or nil if no file exists for it.
func (p *FileProvider) GetBlueprint(_ context.Context, blueprintID string) (*Blueprint, error) {
	if blueprintID == "" || strings.ContainsAny(blueprintID, `/\`) {
		return nil, nil
	}

	p.mu.RLock()
	bp, ok := p.cache[blueprintID]
	p.mu.RUnlock()
	if ok {
		return bp, nil
	}

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(p.dir, blueprintID+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		bp, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if bp.BlueprintID == "" {
			bp.BlueprintID = blueprintID
		}
		if err := Validate(bp); err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cache[blueprintID] = bp
		p.mu.Unlock()
		return bp, nil
	}

	return nil, nil
}
