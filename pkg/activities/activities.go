// Package activities holds the catalogue of workflow job types served by the
// loan manager: their input schema, error codes, timeout and retry budget.
package activities

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"loan-orchestrator/internal/common/validation"
)

//go:embed activities.json
var embedded []byte

var (
	defaultOnce sync.Once
	defaultCat  *Catalogue
	defaultErr  error
)

// Default returns the catalogue compiled into the binary.
func Default() (*Catalogue, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Parse(embedded)
	})
	return defaultCat, defaultErr
}

// LoadFile reads a catalogue from disk, for deployments that ship their own.
func LoadFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalogue, error) {
	var cat Catalogue
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode activity catalogue: %w", err)
	}
	seen := make(map[string]bool, len(cat.Activities))
	for _, a := range cat.Activities {
		if a.TaskType == "" {
			return nil, fmt.Errorf("activity %q has no task type", a.ID)
		}
		if seen[a.TaskType] {
			return nil, fmt.Errorf("duplicate task type %q", a.TaskType)
		}
		seen[a.TaskType] = true
	}
	return &cat, nil
}

func (c *Catalogue) Lookup(taskType string) (Activity, bool) {
	for _, a := range c.Activities {
		if a.TaskType == taskType {
			return a, true
		}
	}
	return Activity{}, false
}

// InputValidator compiles the input schema of taskType.
func (c *Catalogue) InputValidator(taskType string) (*validation.Schema, error) {
	a, ok := c.Lookup(taskType)
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	if len(a.InputSchema) == 0 {
		return nil, fmt.Errorf("task type %q has no input schema", taskType)
	}
	return validation.CompileMap(a.InputSchema)
}
