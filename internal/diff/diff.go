// Package diff computes the structural before/after delta stored alongside
// UPDATE audit events. The output is persisted inside an immutable record and
// contributes to its hash input, so Compute must be a pure function of its two
// arguments: no clocks, no randomness, no environment.
package diff

import "reflect"

// Change records one key's transition. A key that was added has Before nil; a
// key that was removed has After nil. A Change where both sides are non-nil is
// a modification.
type Change struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Diff maps each changed key to its before/after pair. Keys identical in both
// inputs never appear.
type Diff map[string]Change

// Compute returns the per-key delta between two structured snapshots. Either
// input may be nil (absent record). When no key differs the result is nil, not
// an empty map — callers distinguish "no-op update" (nil diff) from "a field
// was set to null" (a Change with After nil).
func Compute(before, after map[string]any) Diff {
	d := Diff{}

	for k, bv := range before {
		av, ok := after[k]
		if !ok {
			d[k] = Change{Before: bv, After: nil}
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			d[k] = Change{Before: bv, After: av}
		}
	}
	for k, av := range after {
		if _, ok := before[k]; !ok {
			d[k] = Change{Before: nil, After: av}
		}
	}

	if len(d) == 0 {
		return nil
	}
	return d
}
