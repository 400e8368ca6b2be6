package core

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"matrixci/internal/matrix"
)

// ErrInvalidWorkflow wraps every structural problem found in a workflow file.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ParseWorkflow parses YAML content into a Workflow and checks its structure.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	wf.Notify.applyDefaults()
	return &wf, nil
}

// LoadWorkflow reads a workflow file from disk.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Validate checks the step template and the matrix declaration.
func (wf *Workflow) Validate() error {
	if len(wf.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}
	if wf.Strategy.MaxParallel < 0 {
		return fmt.Errorf("%w: max-parallel must not be negative", ErrInvalidWorkflow)
	}
	for i, s := range wf.Steps {
		hasRun, hasUses := s.Run != "", s.Uses != ""
		if hasRun == hasUses {
			return fmt.Errorf("%w: step %d (%s) needs exactly one of run or uses", ErrInvalidWorkflow, i+1, s.DisplayName())
		}
		if s.TimeoutMinutes < 0 {
			return fmt.Errorf("%w: step %d (%s) has a negative timeout", ErrInvalidWorkflow, i+1, s.DisplayName())
		}
		if s.If != "" {
			if _, err := ParseCondition(s.If); err != nil {
				return fmt.Errorf("%w: step %d (%s): %v", ErrInvalidWorkflow, i+1, s.DisplayName(), err)
			}
		}
	}
	if err := wf.Strategy.Matrix.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	return nil
}

// UnmarshalYAML keeps the axis order of the mapping. Every key other than
// include and exclude is an axis; scalars keep their literal text so that
// 3.10 stays "3.10".
func (m *MatrixSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "include":
			rules, err := decodeRules(val)
			if err != nil {
				return fmt.Errorf("include: %w", err)
			}
			m.Include = rules
		case "exclude":
			rules, err := decodeRules(val)
			if err != nil {
				return fmt.Errorf("exclude: %w", err)
			}
			m.Exclude = rules
		default:
			values, err := scalarList(val)
			if err != nil {
				return fmt.Errorf("axis %q: %w", key.Value, err)
			}
			m.Axes = append(m.Axes, matrix.Axis{Name: key.Value, Values: values})
		}
	}
	return nil
}

func scalarList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: axis values must be scalars", item.Line)
			}
			out = append(out, item.Value)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: expected a list of values", node.Line)
}

func decodeRules(node *yaml.Node) ([]matrix.Combination, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of mappings", node.Line)
	}
	out := make([]matrix.Combination, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: expected a mapping", item.Line)
		}
		rule := make(matrix.Combination, len(item.Content)/2)
		for j := 0; j+1 < len(item.Content); j += 2 {
			k, v := item.Content[j], item.Content[j+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: value of %q must be a scalar", v.Line, k.Value)
			}
			rule[k.Value] = v.Value
		}
		out = append(out, rule)
	}
	return out, nil
}
