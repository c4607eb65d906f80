// Package offsetrange implements the interval arithmetic that underpins
// checkpoint derivation: the half-open notion of "everything up to this
// offset is durable" tracked as a closed interval [Tail, Head] over a
// partition's monotonically increasing offset domain.
package offsetrange

import "math"

// NegInf stands in for "-infinity" in the signed offset domain: the tail
// of a range that has never seen an add.
const NegInf = math.MinInt64

// Range is an interval [Tail, Head] over a partition's offset domain.
// The zero value is not empty; use Empty() to construct one.
type Range struct {
	Tail int64
	Head int64
}

// Empty returns the empty range, represented by both bounds at NegInf.
func Empty() Range {
	return Range{Tail: NegInf, Head: NegInf}
}

// IsEmpty reports whether r is the empty range.
func (r Range) IsEmpty() bool {
	return r.Head == NegInf
}

// Union returns the smallest range covering both a and b. An empty
// operand contributes nothing, so the union of an empty range and a
// non-empty one is the non-empty one unchanged.
func Union(a, b Range) Range {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}
	return Range{
		Tail: min(a.Tail, b.Tail),
		Head: max(a.Head, b.Head),
	}
}
