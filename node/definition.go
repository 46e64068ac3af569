package node

import (
	"sort"

	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/wire"
)

// definitionInput is the per-input bookkeeping a Definition keeps: its
// last accepted baseline value (if any) and a FIFO queue of updates that
// have arrived since but have not yet been folded into a batch.
type definitionInput struct {
	name        string
	address     ident.Address
	ancestors   map[ident.Address]struct{}
	hasBaseline bool
	baseline    basis.StampedValue
	queue       []basis.StampedValue
}

// Definition holds the pure expression and input state a Definition node
// evaluates whenever a causally-consistent batch of input updates lands.
// Inputs are kept sorted by address so batch-matching's seed/asymmetry
// rule — later inputs may freely consume from their queues while
// already-tried inputs may not — has a stable, address-ordered meaning
// across repeated calls.
type Definition struct {
	expr      wire.DefinitionExpr
	inputs    []*definitionInput
	byAddress map[ident.Address]*definitionInput
}

// newDefinition builds a Definition from a Configuration's expression and
// input list. If there are zero inputs the expression is evaluated
// immediately and ok is true; otherwise ok is false and the caller must
// wait for AddUpdate/FindAndApplyBatch to produce the first value.
func newDefinition(expr wire.DefinitionExpr, specs []wire.InputSpec) (d *Definition, value basis.StampedValue, ok bool) {
	d = &Definition{expr: expr, byAddress: make(map[ident.Address]*definitionInput, len(specs))}
	for _, s := range specs {
		in := &definitionInput{name: s.Name, address: s.Address, ancestors: s.Ancestors}
		d.inputs = append(d.inputs, in)
		d.byAddress[s.Address] = in
	}
	sort.Slice(d.inputs, func(i, j int) bool { return d.inputs[i].address.Less(d.inputs[j].address) })

	if len(d.inputs) == 0 {
		return d, basis.StampedValue{Value: d.expr.Eval(nil), Basis: basis.Empty()}, true
	}
	return d, basis.StampedValue{}, false
}

// Ancestors is the union of every input's ancestor set: the roots a reader
// of this definition must also hold shared locks on.
func (d *Definition) Ancestors() map[ident.Address]struct{} {
	out := make(map[ident.Address]struct{})
	for _, in := range d.inputs {
		for r := range in.ancestors {
			out[r] = struct{}{}
		}
	}
	return out
}

// AddUpdate enqueues a propagated value from one of this definition's
// inputs. sender must be one of the addresses supplied at construction.
func (d *Definition) AddUpdate(sender ident.Address, value basis.StampedValue) {
	in, ok := d.byAddress[sender]
	if !ok {
		panic("node: protocol violation — propagate from an address that is not an input")
	}
	in.queue = append(in.queue, value)
}

// inputCursor is the per-input scratch state kept while searching for a
// consistent batch around one seed.
type inputCursor struct {
	in       *definitionInput
	basis    basis.Stamp
	avail    []basis.StampedValue
	consumed int
}

// FindAndApplyBatch searches for a causally-consistent batch of pending
// input updates and, if one is found, drains it and re-evaluates the
// expression. It tries each input in address order as the "seed": the
// seed's next pending update fixes a target basis, and every other input
// must be advanced (by consuming from its own queue) until its basis
// dominates the seed's target on the roots they share; an input that has
// never had a baseline must also consume at least one update, and the
// attempt fails if its queue is empty. Inputs that sort
// before the current seed are restricted to their existing baseline during
// this attempt, since they were already tried (and failed) as seeds
// themselves — admitting them again would revisit the same search.
func (d *Definition) FindAndApplyBatch() (basis.StampedValue, bool) {
seeds:
	for seedIdx, seed := range d.inputs {
		if len(seed.queue) == 0 {
			continue
		}

		cursors := make([]*inputCursor, len(d.inputs))
		for i, in := range d.inputs {
			c := &inputCursor{in: in, basis: in.baseline.Basis}
			if i >= seedIdx {
				c.avail = in.queue
			}
			cursors[i] = c
		}

		seedCursor := cursors[seedIdx]
		seedUpdate := seedCursor.avail[0]
		seedCursor.avail = seedCursor.avail[1:]
		seedCursor.consumed++
		seedCursor.basis = seedUpdate.Basis

		batchBasis := seedUpdate.Basis.Clone()

		for {
			changed := false
			for _, c := range cursors {
				for (c.consumed == 0 && !c.in.hasBaseline) || !batchBasis.PrecEqWrtRoots(c.basis, c.in.ancestors) {
					if len(c.avail) == 0 {
						continue seeds
					}
					u := c.avail[0]
					c.avail = c.avail[1:]
					c.consumed++
					c.basis = u.Basis
					batchBasis.MergeFrom(u.Basis)
					changed = true
				}
			}
			if !changed {
				break
			}
		}

		for i, c := range cursors {
			if c.consumed == 0 && !d.inputs[i].hasBaseline {
				continue seeds
			}
		}

		for i, in := range d.inputs {
			c := cursors[i]
			if c.consumed == 0 {
				batchBasis.MergeFrom(in.baseline.Basis)
				continue
			}
			consumed := in.queue[:c.consumed]
			in.baseline = consumed[len(consumed)-1]
			in.hasBaseline = true
			in.queue = in.queue[c.consumed:]
		}

		return basis.StampedValue{Value: d.expr.Eval(d.evalValues()), Basis: batchBasis}, true
	}

	return basis.StampedValue{}, false
}

func (d *Definition) evalValues() map[string]any {
	values := make(map[string]any, len(d.inputs))
	for _, in := range d.inputs {
		values[in.name] = in.baseline.Value
	}
	return values
}
