package node

import (
	"testing"

	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/wire"
)

func sumExpr() wire.DefinitionExpr {
	return wire.DefinitionExprFunc(func(inputs map[string]any) any {
		total := 0
		for _, v := range inputs {
			total += v.(int)
		}
		return total
	})
}

func TestZeroInputDefinitionEvaluatesImmediately(t *testing.T) {
	constExpr := wire.DefinitionExprFunc(func(map[string]any) any { return 42 })
	_, v, ok := newDefinition(constExpr, nil)
	if !ok {
		t.Fatalf("expected immediate evaluation for a zero-input definition")
	}
	if v.Value != 42 {
		t.Fatalf("got %v, want 42", v.Value)
	}
	if !v.Basis.IsEmpty() {
		t.Fatalf("expected an empty basis for a zero-input definition")
	}
}

func TestSingleInputBatch(t *testing.T) {
	a := ident.NewAddress(1)
	spec := wire.InputSpec{Name: "a", Address: a, Ancestors: map[ident.Address]struct{}{a: {}}}
	d, _, ok := newDefinition(sumExpr(), []wire.InputSpec{spec})
	if ok {
		t.Fatalf("expected no immediate value with a pending input")
	}

	b := basis.Empty()
	b.Add(a, 1)
	d.AddUpdate(a, basis.StampedValue{Value: 5, Basis: b})

	v, ok := d.FindAndApplyBatch()
	if !ok {
		t.Fatalf("expected a batch to be found")
	}
	if v.Value != 5 {
		t.Fatalf("got %v, want 5", v.Value)
	}
	if v.Basis.Latest(a) != 1 {
		t.Fatalf("got iteration %d, want 1", v.Basis.Latest(a))
	}

	if _, ok := d.FindAndApplyBatch(); ok {
		t.Fatalf("expected no second batch without a further update")
	}
}

func TestBatchWaitsForEveryInputToHaveABaseline(t *testing.T) {
	a := ident.NewAddress(1)
	bAddr := ident.NewAddress(2)
	specs := []wire.InputSpec{
		{Name: "a", Address: a, Ancestors: map[ident.Address]struct{}{a: {}}},
		{Name: "b", Address: bAddr, Ancestors: map[ident.Address]struct{}{bAddr: {}}},
	}
	d, _, ok := newDefinition(sumExpr(), specs)
	if ok {
		t.Fatalf("expected no immediate value with pending inputs")
	}

	ab := basis.Empty()
	ab.Add(a, 1)
	d.AddUpdate(a, basis.StampedValue{Value: 3, Basis: ab})

	if _, ok := d.FindAndApplyBatch(); ok {
		t.Fatalf("expected no batch while b has never had a baseline")
	}

	bb := basis.Empty()
	bb.Add(bAddr, 1)
	d.AddUpdate(bAddr, basis.StampedValue{Value: 4, Basis: bb})

	v, ok := d.FindAndApplyBatch()
	if !ok {
		t.Fatalf("expected a batch once both inputs have a baseline")
	}
	if v.Value != 7 {
		t.Fatalf("got %v, want 7", v.Value)
	}
}

func TestBatchClosesOverSharedRoot(t *testing.T) {
	root := ident.NewAddress(1)
	a := ident.NewAddress(2)
	bAddr := ident.NewAddress(3)
	specs := []wire.InputSpec{
		{Name: "a", Address: a, Ancestors: map[ident.Address]struct{}{root: {}}},
		{Name: "b", Address: bAddr, Ancestors: map[ident.Address]struct{}{root: {}}},
	}
	d, _, _ := newDefinition(sumExpr(), specs)

	base := basis.Empty()
	base.Add(root, 1)
	d.AddUpdate(a, basis.StampedValue{Value: 1, Basis: base})
	d.AddUpdate(bAddr, basis.StampedValue{Value: 2, Basis: base})
	if _, ok := d.FindAndApplyBatch(); !ok {
		t.Fatalf("expected the first batch (both inputs at iteration 1) to succeed")
	}

	advanced := basis.Empty()
	advanced.Add(root, 2)
	d.AddUpdate(a, basis.StampedValue{Value: 10, Basis: advanced})
	if _, ok := d.FindAndApplyBatch(); ok {
		t.Fatalf("expected no batch while b has not yet caught up to the advanced root")
	}

	d.AddUpdate(bAddr, basis.StampedValue{Value: 20, Basis: advanced})
	v, ok := d.FindAndApplyBatch()
	if !ok {
		t.Fatalf("expected a batch once b catches up")
	}
	if v.Value != 30 {
		t.Fatalf("got %v, want 30", v.Value)
	}
}

func TestAncestorsUnionsAllInputs(t *testing.T) {
	r1 := ident.NewAddress(1)
	r2 := ident.NewAddress(2)
	a := ident.NewAddress(3)
	bAddr := ident.NewAddress(4)
	specs := []wire.InputSpec{
		{Name: "a", Address: a, Ancestors: map[ident.Address]struct{}{r1: {}}},
		{Name: "b", Address: bAddr, Ancestors: map[ident.Address]struct{}{r2: {}}},
	}
	d, _, _ := newDefinition(sumExpr(), specs)

	anc := d.Ancestors()
	if len(anc) != 2 {
		t.Fatalf("got %d ancestors, want 2", len(anc))
	}
	if _, ok := anc[r1]; !ok {
		t.Fatalf("missing r1 in ancestors")
	}
	if _, ok := anc[r2]; !ok {
		t.Fatalf("missing r2 in ancestors")
	}
}

func TestAddUpdateFromUnknownInputPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for an update from a non-input address")
		}
	}()
	d, _, _ := newDefinition(sumExpr(), []wire.InputSpec{
		{Name: "a", Address: ident.NewAddress(1), Ancestors: map[ident.Address]struct{}{}},
	})
	d.AddUpdate(ident.NewAddress(99), basis.StampedValue{})
}
