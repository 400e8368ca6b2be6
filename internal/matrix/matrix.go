// Package matrix expands a cross-product of axes into job combinations and
// applies include/exclude overrides.
//
// Expansion is a fixed three-phase pipeline: cross-product, union with the
// include rules, then filtering by the exclude rules. Exclusion therefore also
// removes combinations that were added by an include.
package matrix

import (
	"errors"
	"fmt"
)

// MaxCombinations caps the number of combinations a single matrix may produce.
const MaxCombinations = 256

var (
	ErrEmptyAxis     = errors.New("matrix: axis has no values")
	ErrDuplicateAxis = errors.New("matrix: duplicate axis")
	ErrUnknownAxis   = errors.New("matrix: unknown axis")
	ErrUnknownValue  = errors.New("matrix: unknown axis value")
	ErrTooManyJobs   = errors.New("matrix: too many combinations")
)

// Axis is a named dimension with an ordered list of allowed values.
type Axis struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

func (a Axis) has(value string) bool {
	for _, v := range a.Values {
		if v == value {
			return true
		}
	}
	return false
}

// Matrix is the declarative input of the planner.
type Matrix struct {
	Axes    []Axis        `json:"axes"`
	Include []Combination `json:"include,omitempty"`
	Exclude []Combination `json:"exclude,omitempty"`
}

// Axis looks up an axis by name.
func (m *Matrix) Axis(name string) (Axis, bool) {
	for _, a := range m.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// Validate checks axis declarations and rule references.
// Include values may introduce values an axis does not declare; exclude
// values may not, unless they are the wildcard.
func (m *Matrix) Validate() error {
	seen := make(map[string]struct{}, len(m.Axes))
	for _, a := range m.Axes {
		if a.Name == "" {
			return fmt.Errorf("%w: empty name", ErrUnknownAxis)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateAxis, a.Name)
		}
		seen[a.Name] = struct{}{}
		if len(a.Values) == 0 {
			return fmt.Errorf("%w: %q", ErrEmptyAxis, a.Name)
		}
		vals := make(map[string]struct{}, len(a.Values))
		for _, v := range a.Values {
			if _, dup := vals[v]; dup {
				return fmt.Errorf("matrix: axis %q lists %q twice", a.Name, v)
			}
			vals[v] = struct{}{}
		}
	}

	for i, rule := range m.Include {
		if len(rule) == 0 {
			return fmt.Errorf("matrix: include[%d] is empty", i)
		}
		for k := range rule {
			if _, ok := seen[k]; !ok && len(m.Axes) > 0 {
				return fmt.Errorf("%w: include[%d] references %q", ErrUnknownAxis, i, k)
			}
		}
	}

	for i, rule := range m.Exclude {
		if len(rule) == 0 {
			return fmt.Errorf("matrix: exclude[%d] is empty", i)
		}
		for k, v := range rule {
			a, ok := m.Axis(k)
			if !ok {
				return fmt.Errorf("%w: exclude[%d] references %q", ErrUnknownAxis, i, k)
			}
			if v != Wildcard && !a.has(v) {
				return fmt.Errorf("%w: exclude[%d] %s=%q", ErrUnknownValue, i, k, v)
			}
		}
	}
	return nil
}

// Expand validates the matrix and returns the final combination set.
func (m *Matrix) Expand() ([]Combination, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	size := 1
	for _, a := range m.Axes {
		size *= len(a.Values)
		if size > MaxCombinations {
			return nil, fmt.Errorf("%w: cross-product exceeds %d", ErrTooManyJobs, MaxCombinations)
		}
	}

	set := CrossProduct(m.Axes)
	set = Union(set, m.Include)
	if len(set) > MaxCombinations {
		return nil, fmt.Errorf("%w: %d after include", ErrTooManyJobs, len(set))
	}
	return Filter(set, m.Exclude), nil
}

// CrossProduct builds every combination of the axes, row-major in declared
// order: the first axis varies slowest. No axes yields no combinations.
func CrossProduct(axes []Axis) []Combination {
	if len(axes) == 0 {
		return nil
	}
	out := []Combination{{}}
	for _, a := range axes {
		next := make([]Combination, 0, len(out)*len(a.Values))
		for _, base := range out {
			for _, v := range a.Values {
				c := base.Clone()
				c[a.Name] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// Union appends each include rule verbatim unless an equal combination is
// already present. Partial rules are not expanded against the missing axes.
func Union(set []Combination, include []Combination) []Combination {
	out := make([]Combination, len(set), len(set)+len(include))
	copy(out, set)
	for _, rule := range include {
		if containsEqual(out, rule) {
			continue
		}
		out = append(out, rule.Clone())
	}
	return out
}

// Filter drops every combination matching any exclude rule.
func Filter(set []Combination, exclude []Combination) []Combination {
	out := make([]Combination, 0, len(set))
	for _, c := range set {
		if matchesAny(c, exclude) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsEqual(set []Combination, c Combination) bool {
	for _, s := range set {
		if s.Equal(c) {
			return true
		}
	}
	return false
}

func matchesAny(c Combination, rules []Combination) bool {
	for _, r := range rules {
		if c.Matches(r) {
			return true
		}
	}
	return false
}
