// Package numeric holds small generic helpers shared by the ACES packages
// for integer bookkeeping (degrees, levels, noise budgets), grounded on the
// same golang.org/x/exp/constraints generic-numeric pattern the teacher uses
// in utils/structs/map.go.
package numeric

import "golang.org/x/exp/constraints"

// Max returns the larger of a and b.
func Max[T constraints.Integer](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min[T constraints.Integer](a, b T) T {
	if a < b {
		return a
	}
	return b
}
