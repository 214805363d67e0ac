package regdump

import (
	"sort"

	"github.com/robert-at-pretension-io/cla-compiler/internal/csr"
)

// Delta captures register level additions and removals and field level
// changes between two dumps.
type Delta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []Change `json:"changed"`
}

// Change is one differing field, or the register value when Field is
// empty. A field present on one side only has an empty Old or New.
type Change struct {
	Register string `json:"register"`
	Field    string `json:"field,omitempty"`
	Old      string `json:"old"`
	New      string `json:"new"`
}

// Empty reports whether the dumps are identical.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compute compares prev to next. Every list is sorted by register name,
// then field name.
func Compute(prev, next Dump) Delta {
	d := Delta{
		Added:   diffRows(prev.Names(), next.Names(), identity),
		Removed: diffRows(next.Names(), prev.Names(), identity),
		Changed: []Change{},
	}
	for _, name := range next.Names() {
		old, ok := prev[name]
		if !ok {
			continue
		}
		d.Changed = append(d.Changed, changes(old, next[name])...)
	}
	return d
}

func changes(prev, next Register) []Change {
	var out []Change
	for _, f := range fieldNames(prev, next) {
		pv, pok := prev.Fields[f]
		nv, nok := next.Fields[f]
		if pok && nok && pv == nv {
			continue
		}
		c := Change{Register: next.Name, Field: f}
		if pok {
			c.Old = csr.Hex(pv)
		}
		if nok {
			c.New = csr.Hex(nv)
		}
		out = append(out, c)
	}
	// Values only differ on their own when the dump was edited by hand.
	if len(out) == 0 && prev.Value != next.Value {
		out = append(out, Change{Register: next.Name, Old: csr.Hex(prev.Value), New: csr.Hex(next.Value)})
	}
	return out
}

func fieldNames(a, b Register) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range []Register{a, b} {
		for f := range r.Fields {
			if !seen[f] {
				seen[f] = true
				names = append(names, f)
			}
		}
	}
	sort.Strings(names)
	return names
}

func identity(s string) string { return s }

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]T, len(from))
	for _, row := range from {
		fromSet[key(row)] = row
	}
	var diff []T
	for _, row := range to {
		rowKey := key(row)
		if _, ok := fromSet[rowKey]; !ok {
			diff = append(diff, row)
		}
	}
	if diff == nil {
		diff = []T{}
	}
	return diff
}
