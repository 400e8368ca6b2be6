package matrix

import (
	"sort"
	"strings"
)

// Wildcard matches any value of an axis inside an exclusion rule.
const Wildcard = "*"

// Combination is one tuple of axis values (axis name -> value).
// Rules use partial combinations: only the fields they care about are set.
type Combination map[string]string

// Clone returns an independent copy.
func (c Combination) Clone() Combination {
	out := make(Combination, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Equal reports whether both combinations fix exactly the same fields to the same values.
func (c Combination) Equal(other Combination) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Matches reports whether c satisfies every field the rule specifies.
// Fields the rule leaves out are not compared.
func (c Combination) Matches(rule Combination) bool {
	for k, want := range rule {
		if want == Wildcard {
			continue
		}
		got, ok := c[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Key is a stable identity string. Declared axes come first in declared
// order, any extra fields follow sorted by name.
func (c Combination) Key(axes []Axis) string {
	var b strings.Builder
	for _, name := range c.orderedNames(axes) {
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(c[name])
	}
	return b.String()
}

// Label renders the values only, e.g. "ubuntu-latest, qt4, 3.6".
func (c Combination) Label(axes []Axis) string {
	names := c.orderedNames(axes)
	vals := make([]string, 0, len(names))
	for _, name := range names {
		vals = append(vals, c[name])
	}
	return strings.Join(vals, ", ")
}

func (c Combination) orderedNames(axes []Axis) []string {
	names := make([]string, 0, len(c))
	seen := make(map[string]struct{}, len(axes))
	for _, a := range axes {
		seen[a.Name] = struct{}{}
		if _, ok := c[a.Name]; ok {
			names = append(names, a.Name)
		}
	}
	var extra []string
	for k := range c {
		if _, ok := seen[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}
