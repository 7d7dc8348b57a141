// Package replay drives a pipeline observer with the lifecycle events a real
// host would emit, read from a YAML script. It exists so spans, metrics and
// trace refs can be exercised end to end without a CI server.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/tendril/pkg/flow"
)

// Script is a replayable pipeline run.
type Script struct {
	Run flow.Run `yaml:"run"`

	// Agent wraps the stages in a node block carrying this label. Empty
	// means the stages run directly under the root.
	Agent string `yaml:"agent,omitempty"`

	Stages []Stage `yaml:"stages"`
}

// Stage is a named block of sequential steps, optionally followed by
// parallel branches.
type Stage struct {
	Name     string   `yaml:"name"`
	Steps    []Step   `yaml:"steps,omitempty"`
	Parallel []Branch `yaml:"parallel,omitempty"`
}

// Branch is one arm of a parallel block. Its steps run first, then its
// nested stages.
type Branch struct {
	Name   string  `yaml:"name"`
	Steps  []Step  `yaml:"steps,omitempty"`
	Stages []Stage `yaml:"stages,omitempty"`
}

// Step is an atomic action.
type Step struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`

	// Pause stretches the step so its span gets a visible duration.
	Pause Duration `yaml:"pause,omitempty"`

	// Abort kills the run at this step: the step never completes and the
	// pipeline ends with whatever was still open.
	Abort bool `yaml:"abort,omitempty"`
}

// Duration parses "150ms" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("pause must be a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates a script. Unknown fields are rejected so typos
// in hand-written scripts surface instead of silently dropping steps.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the script for the mistakes a hand-written file is likely
// to contain.
func (s *Script) Validate() error {
	if s.Run.ID == "" {
		return errors.New("run.id is required")
	}
	if len(s.Stages) == 0 {
		return errors.New("at least one stage is required")
	}
	for _, stage := range s.Stages {
		if err := validateStage(stage); err != nil {
			return err
		}
	}
	return nil
}

func validateStage(stage Stage) error {
	if stage.Name == "" {
		return errors.New("stage name is required")
	}
	if err := validateSteps(stage.Steps); err != nil {
		return fmt.Errorf("stage %q: %w", stage.Name, err)
	}
	seen := make(map[string]bool, len(stage.Parallel))
	for _, branch := range stage.Parallel {
		if branch.Name == "" {
			return fmt.Errorf("stage %q: branch name is required", stage.Name)
		}
		if seen[branch.Name] {
			return fmt.Errorf("stage %q: duplicate branch %q", stage.Name, branch.Name)
		}
		seen[branch.Name] = true
		if err := validateSteps(branch.Steps); err != nil {
			return fmt.Errorf("branch %q: %w", branch.Name, err)
		}
		for _, nested := range branch.Stages {
			if err := validateStage(nested); err != nil {
				return fmt.Errorf("branch %q: %w", branch.Name, err)
			}
		}
	}
	return nil
}

func validateSteps(steps []Step) error {
	for _, step := range steps {
		if step.Name == "" {
			return errors.New("step name is required")
		}
	}
	return nil
}
