// Package enumconv implements the single generic enum<->string helper
// named in spec.md's Design Notes, replacing the metaprogramming-derived
// string conversions of the original implementation with one small
// table-driven lookup per closed variant set.
package enumconv

import (
	"fmt"
	"sort"
	"strings"
)

// Table is a bidirectional, case-insensitive mapping between a closed set
// of enum values of type T and their canonical string spelling.
type Table[T comparable] struct {
	toString map[T]string
	toValue  map[string]T
	order    []string
}

// NewTable builds a Table from canonical (value, name) pairs. Names are
// matched case-insensitively on Parse but always rendered in the given
// canonical casing by String.
func NewTable[T comparable](pairs ...struct {
	Value T
	Name  string
}) *Table[T] {
	t := &Table[T]{
		toString: make(map[T]string, len(pairs)),
		toValue:  make(map[string]T, len(pairs)),
	}
	for _, p := range pairs {
		t.toString[p.Value] = p.Name
		t.toValue[strings.ToLower(p.Name)] = p.Value
		t.order = append(t.order, p.Name)
	}
	sort.Strings(t.order)
	return t
}

// String returns the canonical spelling of v, or "" if v is not a member
// of the table.
func (t *Table[T]) String(v T) string {
	return t.toString[v]
}

// Parse parses s (case-insensitively) into a T. On failure the error lists
// every allowed variant.
func (t *Table[T]) Parse(s string) (T, error) {
	if v, ok := t.toValue[strings.ToLower(s)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid value %q: allowed values are %s", s, strings.Join(t.order, ", "))
}
