package basis

import (
	"testing"

	"github.com/invpt/hig-proto/ident"
)

func addr(i uint64) ident.Address { return ident.NewAddress(i) }

func TestMergeIdentity(t *testing.T) {
	a := Empty()
	a.Add(addr(1), 3)
	a.Add(addr(2), 5)

	got := Merge(a, Empty())
	if !got.Equal(a) {
		t.Fatalf("merge(a, empty) = %+v, want %+v", got, a)
	}
}

func TestMergeCommutative(t *testing.T) {
	a := Empty()
	a.Add(addr(1), 3)
	b := Empty()
	b.Add(addr(1), 7)
	b.Add(addr(2), 2)

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !ab.Equal(ba) {
		t.Fatalf("merge not commutative: %+v vs %+v", ab, ba)
	}
	if ab.Latest(addr(1)) != 7 || ab.Latest(addr(2)) != 2 {
		t.Fatalf("merge did not take pointwise max: %+v", ab)
	}
}

func TestMergeAssociative(t *testing.T) {
	a := Empty()
	a.Add(addr(1), 1)
	b := Empty()
	b.Add(addr(1), 2)
	b.Add(addr(2), 9)
	c := Empty()
	c.Add(addr(3), 4)

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	if !left.Equal(right) {
		t.Fatalf("merge not associative: %+v vs %+v", left, right)
	}
}

func TestPrecEqWrtRootsAntisymmetric(t *testing.T) {
	a := Empty()
	a.Add(addr(1), 2)
	b := Empty()
	b.Add(addr(1), 2)

	roots := map[ident.Address]struct{}{addr(1): {}}
	if !a.PrecEqWrtRoots(b, roots) || !b.PrecEqWrtRoots(a, roots) {
		t.Fatalf("expected mutual prec_eq on equal stamps")
	}
	if a.Latest(addr(1)) != b.Latest(addr(1)) {
		t.Fatalf("antisymmetry should imply equal iterations on root")
	}
}

func TestPrecEqWrtRootsStrictlyOrdered(t *testing.T) {
	a := Empty()
	a.Add(addr(1), 3)
	b := Empty()
	b.Add(addr(1), 2)

	roots := map[ident.Address]struct{}{addr(1): {}}
	if a.PrecEqWrtRoots(b, roots) {
		t.Fatalf("a should not precede b on root 1")
	}
	if !b.PrecEqWrtRoots(a, roots) {
		t.Fatalf("b should precede a on root 1")
	}
}

func TestLatestDefaultsToZero(t *testing.T) {
	s := Empty()
	if s.Latest(addr(42)) != 0 {
		t.Fatalf("expected 0 for unseen root")
	}
}

func TestEqualTreatsEmptyUniformly(t *testing.T) {
	a := Empty()
	b := Empty()
	b.Add(addr(9), 0)

	if !a.Equal(b) {
		t.Fatalf("two empty-equivalent stamps must compare equal")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := Empty()
	a.Add(addr(1), 1)
	clone := a.Clone()
	clone.Add(addr(1), 99)

	if a.Latest(addr(1)) != 1 {
		t.Fatalf("mutating clone affected original")
	}
}
