package service

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/haatos/devflow/internal/store"
)

const DefaultStageTimeoutSeconds = 300

type ScriptStage struct {
	Name           string `yaml:"name"`
	Command        string `yaml:"command"`
	TimeoutSeconds int64  `yaml:"timeout_seconds"`
	Disabled       bool   `yaml:"disabled"`
}

type PipelineScript struct {
	Stages []ScriptStage `yaml:"stages"`
}

// ParsePipelineScript decodes a YAML pipeline definition into stage rows.
// Stage positions follow document order.
func ParsePipelineScript(raw []byte) ([]store.PipelineStage, error) {
	ps := new(PipelineScript)
	if err := yaml.Unmarshal(raw, ps); err != nil {
		return nil, ValidationError{Message: fmt.Sprintf("invalid pipeline yaml: %v", err)}
	}

	stages := make([]store.PipelineStage, 0, len(ps.Stages))
	for i, s := range ps.Stages {
		if s.Name == "" {
			return nil, ValidationError{
				Message: fmt.Sprintf("stage %d is missing a name", i+1),
			}
		}
		if s.Command == "" {
			return nil, ValidationError{
				Message: fmt.Sprintf("stage '%s' is missing a command", s.Name),
			}
		}
		timeout := s.TimeoutSeconds
		if timeout <= 0 {
			timeout = DefaultStageTimeoutSeconds
		}
		stages = append(stages, store.PipelineStage{
			Position:       int64(i + 1),
			Name:           s.Name,
			Command:        s.Command,
			TimeoutSeconds: timeout,
			Enabled:        !s.Disabled,
		})
	}
	return stages, nil
}
