// Package basis implements BasisStamp, the causal watermark that every
// published value and every in-flight read carries through the fabric. A
// BasisStamp is a finite map from root variable Address to the Iteration of
// that root the stamp depends on; it forms a join-semilattice under
// pointwise max, which is the only operation definitions and nodes ever
// need to combine bases from independent sources.
package basis

import "github.com/invpt/hig-proto/ident"

// Stamp is a finite mapping root-address -> iteration. The zero value is
// the empty stamp (Iteration 0 for every root), which is also the identity
// element of Merge.
//
// Stamp is treated as an immutable value everywhere outside this package:
// all mutating methods return a new Stamp rather than mutating in place,
// except Add and MergeFrom which are explicitly in-place builders used
// while accumulating a stamp from scratch.
type Stamp struct {
	roots map[ident.Address]ident.Iteration
}

// Empty returns the empty stamp. Prefer this over the zero value of Stamp
// when you intend to call Add/MergeFrom on the result, since the zero value
// has a nil map.
func Empty() Stamp {
	return Stamp{roots: make(map[ident.Address]ident.Iteration)}
}

// IsEmpty reports whether the stamp carries no roots at all.
func (s Stamp) IsEmpty() bool { return len(s.roots) == 0 }

// Latest returns the iteration recorded for root r, or 0 if the stamp does
// not mention r. Every comparison in this package treats an absent root as
// iteration 0, so a stamp that has never observed a root is always
// dominated by one that has.
func (s Stamp) Latest(r ident.Address) ident.Iteration {
	if s.roots == nil {
		return 0
	}
	return s.roots[r]
}

// Add sets roots[r] to the larger of its current value and i, mutating s in
// place. It is the basic builder operation used while assembling a stamp
// (e.g. a transaction's commit basis) one root at a time.
func (s *Stamp) Add(r ident.Address, i ident.Iteration) {
	if s.roots == nil {
		s.roots = make(map[ident.Address]ident.Iteration)
	}
	if i > s.roots[r] {
		s.roots[r] = i
	}
}

// MergeFrom folds other into s pointwise-max, mutating s in place.
func (s *Stamp) MergeFrom(other Stamp) {
	for r, i := range other.roots {
		s.Add(r, i)
	}
}

// Merge returns the pointwise max of a and b without mutating either,
// satisfying the semilattice laws exercised in basis_test.go:
// Merge(a, Empty) == a, Merge is commutative, and Merge is associative.
func Merge(a, b Stamp) Stamp {
	out := Empty()
	out.MergeFrom(a)
	out.MergeFrom(b)
	return out
}

// PrecEqWrtRoots holds iff, for every root r in roots, self's iteration for
// r is <= other's. This is the partial order the batch-matching algorithm
// and the lock-read protocol use to decide whether "other" is at least as
// causally advanced as "self" along the roots that matter to a particular
// input or read. Two stamps unrelated by PrecEqWrtRoots in either direction
// (restricted to roots) are concurrent.
func (s Stamp) PrecEqWrtRoots(other Stamp, roots map[ident.Address]struct{}) bool {
	for r := range roots {
		if s.Latest(r) > other.Latest(r) {
			return false
		}
	}
	return true
}

// Equal reports structural equality after normalizing away explicit
// zero-iteration entries, so that Empty() and a stamp with {r: 0} compare
// equal.
func (s Stamp) Equal(other Stamp) bool {
	if len(s.effective()) != len(other.effective()) {
		return false
	}
	for r, i := range s.effective() {
		if other.Latest(r) != i {
			return false
		}
	}
	return true
}

func (s Stamp) effective() map[ident.Address]ident.Iteration {
	out := make(map[ident.Address]ident.Iteration, len(s.roots))
	for r, i := range s.roots {
		if i != 0 {
			out[r] = i
		}
	}
	return out
}

// Roots returns the set of addresses this stamp has a non-zero entry for,
// handy when a caller wants to fold this stamp into a roots set for a later
// PrecEqWrtRoots call.
func (s Stamp) Roots() map[ident.Address]struct{} {
	out := make(map[ident.Address]struct{}, len(s.roots))
	for r, i := range s.roots {
		if i != 0 {
			out[r] = struct{}{}
		}
	}
	return out
}

// Clone returns an independent copy of s.
func (s Stamp) Clone() Stamp {
	out := Empty()
	out.MergeFrom(s)
	return out
}

// StampedValue pairs an opaque value with the causal watermark describing
// which root iterations it depends on. The value representation itself is
// explicitly out of scope for this engine (see expr.Value) so it is carried
// here as `any`; every node, definition, and transaction treats it as
// inert, copyable data.
type StampedValue struct {
	Value any
	Basis Stamp
}

// Clone returns a StampedValue with an independently-mutable Basis. Value
// is copied by reference: StampedValues are copied on propagation but their
// payload is treated as opaque.
func (sv StampedValue) Clone() StampedValue {
	return StampedValue{Value: sv.Value, Basis: sv.Basis.Clone()}
}
