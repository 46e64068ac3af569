package node

import (
	"testing"

	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/router"
	"github.com/invpt/hig-proto/wire"
)

type clientActor struct {
	received []router.Message
}

func (c *clientActor) Handle(ctx *router.Context, from router.Address, msg router.Message) {
	c.received = append(c.received, msg)
}

func (c *clientActor) granted() (wire.LockGranted, bool) {
	for _, m := range c.received {
		if g, ok := m.(wire.LockGranted); ok {
			return g, true
		}
	}
	return wire.LockGranted{}, false
}

func spawnVariable(r *router.Router, initial any, hasInitial bool) (router.Address, *Node) {
	var n *Node
	addr := r.Spawn(func(ctx *router.Context) router.Actor {
		n = NewVariable(ctx.Self(), initial, hasInitial)
		return n
	})
	return addr, n
}

func TestVariableWriteThenRelease(t *testing.T) {
	r := router.New()
	var client *clientActor
	clientAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		client = &clientActor{}
		return client
	})

	addr, n := spawnVariable(r, nil, false)

	tx := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: clientAddr}
	r.Send(clientAddr, addr, wire.Lock{TxId: tx, Kind: ident.Exclusive})
	r.Run()

	if _, ok := client.granted(); !ok {
		t.Fatalf("expected a LockGranted after requesting an uncontended exclusive lock")
	}

	r.Send(clientAddr, addr, wire.Write{TxId: tx, Value: 7})
	r.Send(clientAddr, addr, wire.Release{TxId: tx, Basis: basis.Empty()})
	r.Run()

	v, ok := n.Value()
	if !ok {
		t.Fatalf("expected a published value after release")
	}
	if v.Value != 7 {
		t.Fatalf("got %v, want 7", v.Value)
	}
	if n.held.Mode() != 0 {
		t.Fatalf("expected no locks held after release")
	}
}

// TestReadIsDeferredThenSatisfiedOnceValueCatchesUp covers a read on a
// Definition whose requested basis is ahead of what the definition has
// recomputed so far: the read must wait, without being satisfied by a
// stale value, until enough Propagate traffic advances the definition far
// enough to dominate the request on its ancestor roots.
func TestReadIsDeferredThenSatisfiedOnceValueCatchesUp(t *testing.T) {
	r := router.New()

	var client *clientActor
	clientAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		client = &clientActor{}
		return client
	})
	// Stand-in address for an upstream root; it never needs to act, it
	// only needs a stable identity to propagate Sender/Ancestors from.
	upstream := r.Spawn(func(ctx *router.Context) router.Actor { return &clientActor{} })

	var defNode *Node
	defAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		defNode = NewDefinition(ctx.Self(), wire.DefinitionExprFunc(func(inputs map[string]any) any {
			return inputs["x"]
		}), []wire.InputSpec{
			{Name: "x", Address: upstream, Ancestors: map[ident.Address]struct{}{upstream: {}}},
		})
		return defNode
	})

	readTx := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: clientAddr}
	r.Send(clientAddr, defAddr, wire.Lock{TxId: readTx, Kind: ident.Shared})
	r.Run()

	seed := basis.Empty()
	seed.Add(upstream, 1)
	r.Send(upstream, defAddr, wire.Propagate{Sender: upstream, Value: basis.StampedValue{Value: 10, Basis: seed}})
	r.Run()

	ahead := basis.Empty()
	ahead.Add(upstream, 2)
	r.Send(clientAddr, defAddr, wire.Read{TxId: readTx, Basis: ahead})
	r.Run()

	for _, m := range client.received {
		if _, ok := m.(wire.ReadResult); ok {
			t.Fatalf("did not expect a ReadResult before the value catches up")
		}
	}

	advanced := basis.Empty()
	advanced.Add(upstream, 2)
	r.Send(upstream, defAddr, wire.Propagate{Sender: upstream, Value: basis.StampedValue{Value: 20, Basis: advanced}})
	r.Run()

	var result wire.ReadResult
	found := false
	for _, m := range client.received {
		if res, ok := m.(wire.ReadResult); ok {
			result = res
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the deferred read to be satisfied once the value caught up")
	}
	if result.Value.Value != 20 {
		t.Fatalf("got %v, want 20", result.Value.Value)
	}
}

func TestWoundWaitPreemptsYoungerSharedHolderForOlderExclusive(t *testing.T) {
	r := router.New()
	var young, old *clientActor
	youngAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		young = &clientActor{}
		return young
	})
	oldAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		old = &clientActor{}
		return old
	})

	addr, _ := spawnVariable(r, 0, true)

	youngTx := ident.TxId{Priority: ident.Low, Timestamp: 10, Originator: youngAddr}
	oldTx := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: oldAddr}

	r.Send(youngAddr, addr, wire.Lock{TxId: youngTx, Kind: ident.Shared})
	r.Run()

	r.Send(oldAddr, addr, wire.Lock{TxId: oldTx, Kind: ident.Exclusive})
	r.Run()

	var sawPreempt bool
	for _, m := range young.received {
		if p, ok := m.(wire.Preempt); ok && p.TxId.Equal(youngTx) {
			sawPreempt = true
		}
	}
	if !sawPreempt {
		t.Fatalf("expected the younger shared holder to be preempted by the older exclusive candidate")
	}
	if _, ok := old.granted(); ok {
		t.Fatalf("the older exclusive candidate should still be waiting on the preempt")
	}

	r.Send(youngAddr, addr, wire.Abort{TxId: youngTx})
	r.Run()

	if _, ok := old.granted(); !ok {
		t.Fatalf("expected the exclusive candidate to be granted once the younger holder aborts")
	}
}

func TestYoungerExclusiveWaitsBehindOlderExclusive(t *testing.T) {
	r := router.New()
	var young, old *clientActor
	youngAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		young = &clientActor{}
		return young
	})
	oldAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		old = &clientActor{}
		return old
	})

	addr, _ := spawnVariable(r, 0, true)

	oldTx := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: oldAddr}
	youngTx := ident.TxId{Priority: ident.Low, Timestamp: 10, Originator: youngAddr}

	r.Send(oldAddr, addr, wire.Lock{TxId: oldTx, Kind: ident.Exclusive})
	r.Run()
	if _, ok := old.granted(); !ok {
		t.Fatalf("expected the first exclusive request to be granted immediately")
	}

	r.Send(youngAddr, addr, wire.Lock{TxId: youngTx, Kind: ident.Exclusive})
	r.Run()
	if _, ok := young.granted(); ok {
		t.Fatalf("a younger exclusive candidate must wait, not preempt, behind an older exclusive holder")
	}
	for _, m := range old.received {
		if _, ok := m.(wire.Preempt); ok {
			t.Fatalf("an older exclusive holder must not be preempted by a younger candidate")
		}
	}
}

func TestRetireStopsFurtherCommits(t *testing.T) {
	r := router.New()
	var client *clientActor
	clientAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		client = &clientActor{}
		return client
	})

	addr, n := spawnVariable(r, 0, true)

	tx := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: clientAddr}
	r.Send(clientAddr, addr, wire.Lock{TxId: tx, Kind: ident.Exclusive})
	r.Run()
	r.Send(clientAddr, addr, wire.RetireNode{TxId: tx})
	r.Send(clientAddr, addr, wire.Release{TxId: tx, Basis: basis.Empty()})
	r.Run()

	_ = n
	tx2 := ident.TxId{Priority: ident.Low, Timestamp: 2, Originator: clientAddr}
	r.Send(clientAddr, addr, wire.Lock{TxId: tx2, Kind: ident.Exclusive})
	r.Run()

	if len(client.received) == 0 {
		t.Fatalf("expected at least the first LockGranted to have been recorded")
	}
	var unreachableSeen bool
	for _, m := range client.received {
		if _, ok := m.(router.Unreachable); ok {
			unreachableSeen = true
		}
	}
	if !unreachableSeen {
		t.Fatalf("expected a lock request against a retired node to bounce as Unreachable")
	}
}

func TestDefinitionOverOneVariablePropagates(t *testing.T) {
	r := router.New()
	varAddr, varNode := spawnVariable(r, 2, true)
	_ = varNode

	var defNode *Node
	defAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		defNode = NewDefinition(ctx.Self(), wire.DefinitionExprFunc(func(inputs map[string]any) any {
			return inputs["x"].(int) * 10
		}), []wire.InputSpec{
			{Name: "x", Address: varAddr, Ancestors: map[ident.Address]struct{}{varAddr: {}}},
		})
		return defNode
	})

	var client *clientActor
	clientAddr := r.Spawn(func(ctx *router.Context) router.Actor {
		client = &clientActor{}
		return client
	})

	subTx := ident.TxId{Priority: ident.Low, Timestamp: 1, Originator: clientAddr}
	r.Send(clientAddr, varAddr, wire.Lock{TxId: subTx, Kind: ident.Shared})
	r.Run()
	r.Send(clientAddr, varAddr, wire.UpdateSubscriptions{
		TxId:    subTx,
		Changes: map[ident.Address]bool{defAddr: true},
	})
	r.Send(clientAddr, varAddr, wire.Release{TxId: subTx, Basis: basis.Empty()})
	r.Run()

	writeTx := ident.TxId{Priority: ident.Low, Timestamp: 2, Originator: clientAddr}
	r.Send(clientAddr, varAddr, wire.Lock{TxId: writeTx, Kind: ident.Exclusive})
	r.Run()
	r.Send(clientAddr, varAddr, wire.Write{TxId: writeTx, Value: 9})
	r.Send(clientAddr, varAddr, wire.Release{TxId: writeTx, Basis: basis.Empty()})
	r.Run()

	v, ok := defNode.Value()
	if !ok {
		t.Fatalf("expected the definition to have computed a value")
	}
	if v.Value != 90 {
		t.Fatalf("got %v, want 90", v.Value)
	}
}
