package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Pipeline is an ordered, independently enable-able list of steps.
type Pipeline struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Enabled returns the steps that will actually execute, in order.
func (p Pipeline) Enabled() []Step {
	enabled := make([]Step, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step.Enabled {
			enabled = append(enabled, step)
		}
	}
	return enabled
}

// FirstEnabled returns the first step that will execute.
func (p Pipeline) FirstEnabled() (Step, bool) {
	for _, step := range p.Steps {
		if step.Enabled {
			return step, true
		}
	}
	return Step{}, false
}

// StepByID returns the step with the given id.
func (p Pipeline) StepByID(id string) (Step, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// Validate checks structural invariants: at least one enabled step, unique
// step ids, and a decodable config for every step (disabled ones included,
// so a later enable flip cannot surface a config error mid-run).
func (p Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("pipeline has no steps")
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for _, step := range p.Steps {
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
		if err := ValidateStep(step); err != nil {
			return err
		}
	}
	if len(p.Enabled()) == 0 {
		return errors.New("pipeline has no enabled steps")
	}
	return nil
}

// Decode parses a pipeline from its serialized form.
func Decode(data []byte) (Pipeline, error) {
	var p Pipeline
	if len(data) == 0 {
		return p, errors.New("empty pipeline definition")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode pipeline: %w", err)
	}
	return p, nil
}

// Encode serializes the pipeline for persistence.
func (p Pipeline) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return data, nil
}

// DisplayName returns the pipeline name, or a fallback if unnamed.
func (p Pipeline) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return "untitled pipeline"
}
