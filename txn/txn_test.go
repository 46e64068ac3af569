package txn

import (
	"testing"

	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/node"
	"github.com/invpt/hig-proto/router"
	"github.com/invpt/hig-proto/wire"
)

func spawnVariable(rt *router.Router, initial any, hasInitial bool) (router.Address, *node.Node) {
	var n *node.Node
	addr := rt.Spawn(func(ctx *router.Context) router.Actor {
		n = node.NewVariable(ctx.Self(), initial, hasInitial)
		return n
	})
	return addr, n
}

type recorder struct {
	outcomes []Outcome
}

func (r *recorder) TransactionFinished(ctx *router.Context, id ident.TxId, outcome Outcome) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestWriteActionCommits(t *testing.T) {
	rt := router.New()
	addr, n := spawnVariable(rt, 1, true)

	rec := &recorder{}
	prog := ProgramFunc(func(tc *Ctx) bool {
		return tc.Write(addr, 42)
	})

	rt.Spawn(func(ctx *router.Context) router.Actor {
		txid := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: ctx.Self()}
		txn := New(txid, prog, rec)
		txn.Start(ctx)
		return txn
	})
	rt.Run()

	val, ok := n.Value()
	if !ok {
		t.Fatal("expected variable to have a value")
	}
	if val.Value != 42 {
		t.Fatalf("got %v, want 42", val.Value)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != Committed {
		t.Fatalf("expected a single Committed outcome, got %v", rec.outcomes)
	}
}

func TestReadActionReturnsCurrentValue(t *testing.T) {
	rt := router.New()
	addr, _ := spawnVariable(rt, 7, true)

	rec := &recorder{}
	var seen any
	prog := ProgramFunc(func(tc *Ctx) bool {
		v, ok := tc.Read(addr)
		if !ok {
			return false
		}
		seen = v
		return true
	})

	rt.Spawn(func(ctx *router.Context) router.Actor {
		txid := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: ctx.Self()}
		txn := New(txid, prog, rec)
		txn.Start(ctx)
		return txn
	})
	rt.Run()

	if seen != 7 {
		t.Fatalf("got %v, want 7", seen)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != Committed {
		t.Fatalf("expected a single Committed outcome, got %v", rec.outcomes)
	}
}

// TestPreemptYieldsEntireTransaction drives a younger reader into a
// genuinely blocked Read (a Definition that hasn't been propagated to yet,
// so the node can't answer), then has an older writer contend for the same
// node. The younger transaction must see a Preempt and abort outright
// rather than limp along with a partial lock set.
func TestPreemptYieldsEntireTransaction(t *testing.T) {
	rt := router.New()
	sum := func(inputs map[string]any) any { return inputs["x"] }
	inputAddr := ident.NewAddress(999) // never actually spawned; no Propagate will arrive
	defAddr := rt.Spawn(func(ctx *router.Context) router.Actor {
		return node.NewDefinition(ctx.Self(), wire.DefinitionExprFunc(sum), []wire.InputSpec{
			{Name: "x", Address: inputAddr, Ancestors: map[ident.Address]struct{}{}},
		})
	})

	recReader := &recorder{}
	readerProg := ProgramFunc(func(tc *Ctx) bool {
		_, ok := tc.Read(defAddr)
		return ok
	})
	rt.Spawn(func(ctx *router.Context) router.Actor {
		txid := ident.TxId{Priority: ident.Low, Timestamp: 10, Originator: ctx.Self()}
		txn := New(txid, readerProg, recReader)
		txn.Start(ctx)
		return txn
	})
	rt.Run()

	if len(recReader.outcomes) != 0 {
		t.Fatalf("reader should still be blocked, got outcomes %v", recReader.outcomes)
	}

	recWriter := &recorder{}
	writerProg := ProgramFunc(func(tc *Ctx) bool {
		return tc.Retire(defAddr)
	})
	rt.Spawn(func(ctx *router.Context) router.Actor {
		txid := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: ctx.Self()}
		txn := New(txid, writerProg, recWriter)
		txn.Start(ctx)
		return txn
	})
	rt.Run()

	if len(recReader.outcomes) != 1 || recReader.outcomes[0] != Aborted {
		t.Fatalf("expected reader to abort after preempt, got %v", recReader.outcomes)
	}
	if len(recWriter.outcomes) != 1 || recWriter.outcomes[0] != Committed {
		t.Fatalf("expected writer to commit, got %v", recWriter.outcomes)
	}
}
