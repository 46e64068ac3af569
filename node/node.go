// Package node implements the reactive node actor: the lockable,
// addressable unit that is either a Variable (a writable cell) or a
// Definition (a pure expression over other nodes). This is the largest
// single component of the fabric, since it owns locking (Wound-Wait
// preemption via the lock package), value propagation, and — for
// definitions — the basis-stamp batch-matching algorithm in definition.go.
package node

import (
	"fmt"

	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/lock"
	"github.com/invpt/hig-proto/router"
	"github.com/invpt/hig-proto/wire"
)

// queuedLock is one outstanding lock request, kept in a slice ordered by
// ascending TxId (eldest first) so grantLocks can always examine the
// oldest unsatisfied request first.
type queuedLock struct {
	txid ident.TxId
	kind ident.LockKind
}

// Node is the reactive node actor. It implements router.Actor.
type Node struct {
	self    ident.Address
	version ident.Version
	kind    wire.Kind
	retired bool

	// Variable state. value is nil until the first commit seeds it; for a
	// node born as a Definition with zero inputs it is seeded immediately
	// at construction instead.
	value     *basis.StampedValue
	iteration ident.Iteration

	// Definition state; nil for Variables.
	def *Definition

	// Locking.
	queued []queuedLock
	held   lock.HeldLocks
	reads  basis.Stamp

	subscribers map[ident.Address]struct{}
}

// NewVariable constructs a Variable node, optionally seeded with an initial
// value at basis.Stamp{} (an unwritten variable has no causal history).
func NewVariable(self ident.Address, initial any, hasInitial bool) *Node {
	n := &Node{
		self:        self,
		kind:        wire.KindVariable,
		subscribers: make(map[ident.Address]struct{}),
	}
	if hasInitial {
		v := basis.StampedValue{Value: initial, Basis: basis.Empty()}
		n.value = &v
	}
	return n
}

// NewDefinition constructs a Definition node over the given expression and
// inputs. If the expression has zero inputs it can be evaluated
// immediately; otherwise the node has no value until enough Propagate
// messages fill every input's baseline — this implementation always waits
// for fresh propagation rather than attempting to synthesize a value from
// partial information, see DESIGN.md.
func NewDefinition(self ident.Address, expr wire.DefinitionExpr, inputs []wire.InputSpec) *Node {
	n := &Node{
		self:        self,
		kind:        wire.KindDefinition,
		subscribers: make(map[ident.Address]struct{}),
	}
	def, value, ok := newDefinition(expr, inputs)
	n.def = def
	if ok {
		n.value = &value
	}
	return n
}

// Factory adapts a node constructor that takes the node's own address into
// a router.Spawn-compatible factory: build is called with the address the
// router reserved for the new actor. Callers in this module typically prefer
// spawning via an inline factory closure instead; Factory exists for tests
// and the CLI that want a one-liner.
func Factory(build func(self ident.Address) *Node) func(ctx *router.Context) router.Actor {
	return func(ctx *router.Context) router.Actor {
		return build(ctx.Self())
	}
}

// Address returns the node's own router address.
func (n *Node) Address() ident.Address { return n.self }

// Version returns the node's current schema version.
func (n *Node) Version() ident.Version { return n.version }

// Value returns the node's last published value, if any.
func (n *Node) Value() (basis.StampedValue, bool) {
	if n.value == nil {
		return basis.StampedValue{}, false
	}
	return n.value.Clone(), true
}

// Handle implements router.Actor.
func (n *Node) Handle(ctx *router.Context, from ident.Address, msg router.Message) {
	switch m := msg.(type) {
	case wire.Lock:
		n.handleLock(ctx, m)
	case wire.Abort:
		n.handleAbort(ctx, m)
	case wire.Release:
		n.handleRelease(ctx, m)
	case wire.Read:
		n.handleRead(ctx, m)
	case wire.Write:
		n.handleWrite(m)
	case wire.Reconfigure:
		n.handleReconfigure(m)
	case wire.RetireNode:
		n.handleRetireReq(m)
	case wire.UpdateSubscriptions:
		n.handleUpdateSubscriptions(m)
	case wire.Propagate:
		n.handlePropagate(ctx, m)
	case router.Unreachable:
		n.handleUnreachable(from, m)
	default:
		panic(fmt.Sprintf("node: unexpected message type %T", msg))
	}
}

func (n *Node) handleLock(ctx *router.Context, m wire.Lock) {
	if n.isAlreadyQueuedOrHeld(m.TxId) {
		panic("node: protocol violation — lock requested twice for the same txid")
	}
	idx := 0
	for idx < len(n.queued) && n.queued[idx].txid.Less(m.TxId) {
		idx++
	}
	n.queued = append(n.queued, queuedLock{})
	copy(n.queued[idx+1:], n.queued[idx:])
	n.queued[idx] = queuedLock{txid: m.TxId, kind: m.Kind}

	n.grantLocks(ctx)
}

func (n *Node) isAlreadyQueuedOrHeld(txid ident.TxId) bool {
	for _, q := range n.queued {
		if q.txid.Equal(txid) {
			return true
		}
	}
	_, held := n.held.Shared(txid)
	return held
}

func (n *Node) handleAbort(ctx *router.Context, m wire.Abort) {
	n.held.Remove(m.TxId)
	n.removeQueued(m.TxId)
	n.grantLocks(ctx)
}

func (n *Node) removeQueued(txid ident.TxId) {
	for i, q := range n.queued {
		if q.txid.Equal(txid) {
			n.queued = append(n.queued[:i], n.queued[i+1:]...)
			return
		}
	}
}

func (n *Node) handleRelease(ctx *router.Context, m wire.Release) {
	var sh *lock.SharedState
	var ex *lock.ExclusiveState
	isExclusive := false

	if s, ok := n.held.Shared(m.TxId); ok {
		cp := *s
		sh = &cp
	}
	if e, ok := n.held.ExclusiveFor(m.TxId); ok {
		cp := *e
		ex = &cp
		isExclusive = true
	}

	n.held.Remove(m.TxId)
	retire := n.applyChanges(ctx, m.Basis, sh, ex, isExclusive)
	n.grantLocks(ctx)

	if retire {
		ctx.Retire()
	}
}

// applyChanges is the release-time handler: if the holder's read completed,
// fold the release basis into `reads`, resolve whatever exclusive action was staged, then apply
// subscription changes in request order.
func (n *Node) applyChanges(ctx *router.Context, releaseBasis basis.Stamp, sh *lock.SharedState, ex *lock.ExclusiveState, isExclusive bool) (retire bool) {
	if sh != nil && sh.Read == lock.ReadComplete {
		n.reads.MergeFrom(releaseBasis)
	}

	if isExclusive && ex != nil {
		switch ex.Kind {
		case lock.ExclusiveWrite:
			if n.kind != wire.KindVariable {
				panic("node: protocol violation — write staged on a definition node")
			}
			if n.retired {
				panic("node: protocol violation — write staged after retire")
			}
			n.updateValue(ctx, basis.StampedValue{Value: ex.WriteValue, Basis: releaseBasis})
		case lock.ExclusiveUpdate:
			if n.retired {
				panic("node: protocol violation — reconfigure staged after retire")
			}
			n.applyReconfigure(ctx, ex.Configuration, releaseBasis)
			n.version++
		case lock.ExclusiveRetire:
			retire = true
		}
	}

	if sh != nil {
		for _, ch := range sh.SubscriptionUpdates {
			if ch.Subscribe {
				n.subscribers[ch.Subscriber] = struct{}{}
			} else {
				delete(n.subscribers, ch.Subscriber)
			}
		}
	}

	if retire {
		n.retired = true
	}

	return retire
}

func (n *Node) applyReconfigure(ctx *router.Context, cfg wire.Configuration, releaseBasis basis.Stamp) {
	switch cfg.Kind {
	case wire.KindVariable:
		n.kind = wire.KindVariable
		n.def = nil
		if cfg.HasInitialValue {
			n.updateValue(ctx, basis.StampedValue{Value: cfg.InitialValue, Basis: releaseBasis})
		}
	case wire.KindDefinition:
		n.kind = wire.KindDefinition
		def, value, ok := newDefinition(cfg.Expr, cfg.Inputs)
		n.def = def
		if ok {
			n.updateValue(ctx, value)
		} else {
			n.value = nil
		}
	default:
		panic("node: protocol violation — unknown configuration kind")
	}
}

func (n *Node) handleRead(ctx *router.Context, m wire.Read) {
	sh, ok := n.held.Shared(m.TxId)
	if !ok {
		panic("node: protocol violation — read without a held shared lock")
	}
	if sh.Read == lock.ReadPending {
		panic("node: protocol violation — more than one outstanding read for a holder")
	}

	anc := n.ancestorsSet()
	if n.value != nil && m.Basis.PrecEqWrtRoots(n.value.Basis, anc) {
		ctx.Send(m.TxId.Originator, wire.ReadResult{
			TxId:    m.TxId,
			Address: n.self,
			Value:   n.value.Clone(),
		})
		sh.Read = lock.ReadComplete
		return
	}

	sh.Read = lock.ReadPending
	sh.PendingRead = m.Basis.Clone()
}

func (n *Node) handleWrite(m wire.Write) {
	ex, ok := n.held.ExclusiveFor(m.TxId)
	if !ok {
		panic("node: protocol violation — write without a held exclusive lock")
	}
	if n.kind != wire.KindVariable {
		panic("node: protocol violation — write on a definition node")
	}

	switch ex.Kind {
	case lock.ExclusiveUnchanged:
		ex.Kind = lock.ExclusiveWrite
		ex.WriteValue = m.Value
	case lock.ExclusiveWrite:
		ex.WriteValue = m.Value
	case lock.ExclusiveUpdate:
		if ex.Configuration.Kind != wire.KindVariable {
			panic("node: protocol violation — write spliced into a definition reconfigure")
		}
		ex.Configuration.InitialValue = m.Value
		ex.Configuration.HasInitialValue = true
	case lock.ExclusiveRetire:
		panic("node: protocol violation — write after retire")
	}
}

func (n *Node) handleReconfigure(m wire.Reconfigure) {
	ex, ok := n.held.ExclusiveFor(m.TxId)
	if !ok {
		panic("node: protocol violation — reconfigure without a held exclusive lock")
	}
	if ex.Kind == lock.ExclusiveRetire {
		panic("node: protocol violation — reconfigure after retire")
	}

	cfg := m.Configuration
	// A Write immediately followed by a Reconfigure on the same exclusive
	// lock folds the write into the new configuration rather than
	// discarding it.
	if ex.Kind == lock.ExclusiveWrite && cfg.Kind == wire.KindVariable && !cfg.HasInitialValue {
		cfg.InitialValue = ex.WriteValue
		cfg.HasInitialValue = true
	}

	ex.Kind = lock.ExclusiveUpdate
	ex.Configuration = cfg
}

func (n *Node) handleRetireReq(m wire.RetireNode) {
	ex, ok := n.held.ExclusiveFor(m.TxId)
	if !ok {
		panic("node: protocol violation — retire without a held exclusive lock")
	}
	ex.Kind = lock.ExclusiveRetire
}

func (n *Node) handleUpdateSubscriptions(m wire.UpdateSubscriptions) {
	sh, ok := n.held.Shared(m.TxId)
	if !ok {
		panic("node: protocol violation — update-subscriptions without a held shared lock")
	}
	for addr, subscribe := range m.Changes {
		sh.SubscriptionUpdates = append(sh.SubscriptionUpdates, lock.SubscriptionChange{
			Subscriber: addr,
			Subscribe:  subscribe,
		})
	}
}

func (n *Node) handlePropagate(ctx *router.Context, m wire.Propagate) {
	if n.kind != wire.KindDefinition {
		panic("node: protocol violation — propagate delivered to a variable node")
	}
	n.def.AddUpdate(m.Sender, m.Value)
	if nv, ok := n.def.FindAndApplyBatch(); ok {
		n.updateValue(ctx, nv)
	}
}

// handleUnreachable recovers from a retired peer. The only recoverable
// case this node knows how to handle directly is a dead subscriber: the
// `from` address of a synthesized Unreachable is the peer the router could
// not deliver to, so a Propagate that bounced means that subscriber is gone
// and should simply be dropped. Anything else (a retired transaction that
// can no longer receive LockGranted/ReadResult/Preempt) is a liveness gap this
// engine does not attempt to paper over — a production deployment would
// need lease-based lock reclamation, which is out of scope here.
func (n *Node) handleUnreachable(from ident.Address, m router.Unreachable) {
	if _, ok := m.Inner.(wire.Propagate); ok {
		delete(n.subscribers, from)
	}
}

// grantLocks implements Wound-Wait admission. It scans the queue
// eldest-first, granting whatever is immediately compatible with the
// current hold and preempting younger holders exactly once when an older
// Exclusive candidate needs the node.
func (n *Node) grantLocks(ctx *router.Context) {
	for len(n.queued) > 0 {
		cand := n.queued[0]

		switch n.held.Mode() {
		case lock.ModeNone:
			n.queued = n.queued[1:]
			if cand.kind == ident.Shared {
				n.held.GrantShared(cand.txid)
				n.sendGranted(ctx, cand.txid)
				continue
			}
			n.held.GrantExclusive(cand.txid)
			n.sendGranted(ctx, cand.txid)
			return

		case lock.ModeShared:
			if cand.kind == ident.Shared {
				n.queued = n.queued[1:]
				n.held.GrantShared(cand.txid)
				n.sendGranted(ctx, cand.txid)
				continue
			}
			for _, txid := range n.held.SharedHolders() {
				if !txid.Less(cand.txid) { // txid >= cand.txid: younger-or-equal
					n.preempt(ctx, txid)
				}
			}
			return

		case lock.ModeExclusive:
			heldTxid, _ := n.held.Exclusive()
			if cand.txid.Less(heldTxid) {
				n.preempt(ctx, heldTxid)
			}
			return
		}
	}
}

func (n *Node) preempt(ctx *router.Context, txid ident.TxId) {
	sh, ok := n.held.Shared(txid)
	if !ok || sh.Preempting {
		return
	}
	sh.Preempting = true
	ctx.Send(txid.Originator, wire.Preempt{TxId: txid})
}

func (n *Node) sendGranted(ctx *router.Context, txid ident.TxId) {
	ctx.Send(txid.Originator, wire.LockGranted{
		TxId:    txid,
		Address: n.self,
		Version: n.version,
		Info:    n.kindInfo(),
	})
}

func (n *Node) kindInfo() wire.KindInfo {
	if n.kind == wire.KindVariable {
		return wire.KindInfo{Kind: wire.KindVariable, Iteration: n.iteration}
	}
	return wire.KindInfo{Kind: wire.KindDefinition, Ancestors: n.ancestorsSet()}
}

func (n *Node) ancestorsSet() map[ident.Address]struct{} {
	if n.kind == wire.KindVariable {
		return map[ident.Address]struct{}{n.self: {}}
	}
	if n.def == nil {
		return map[ident.Address]struct{}{}
	}
	return n.def.Ancestors()
}

// updateValue is the shared tail of every path that produces a new
// published value: a committed Write, a committed Reconfigure that can
// compute immediately, or a Definition batch. It merges the accumulated
// `reads` watermark into the new basis, bumps `iteration` if this node is
// itself a root, fans the value out to subscribers, and wakes any pending
// reads the new value now satisfies.
func (n *Node) updateValue(ctx *router.Context, v basis.StampedValue) {
	merged := v.Basis.Clone()
	merged.MergeFrom(n.reads)
	n.reads = basis.Empty()

	final := basis.StampedValue{Value: v.Value, Basis: merged}
	n.value = &final

	if it := merged.Latest(n.self); ident.Iteration(it) > n.iteration {
		n.iteration = ident.Iteration(it)
	}

	for sub := range n.subscribers {
		ctx.Send(sub, wire.Propagate{Sender: n.self, Value: final.Clone()})
	}

	n.wakePendingReads(ctx)
}

func (n *Node) wakePendingReads(ctx *router.Context) {
	anc := n.ancestorsSet()
	for _, txid := range n.held.SharedHolders() {
		sh, ok := n.held.Shared(txid)
		if !ok || sh.Read != lock.ReadPending {
			continue
		}
		if sh.PendingRead.PrecEqWrtRoots(n.value.Basis, anc) {
			ctx.Send(txid.Originator, wire.ReadResult{
				TxId:    txid,
				Address: n.self,
				Value:   n.value.Clone(),
			})
			sh.Read = lock.ReadComplete
		}
	}
}
