// Package txn implements the transaction state machine that drives one
// action or upgrade to completion: acquiring locks in Wound-Wait order,
// issuing reads and writes against them, and releasing everything with a
// merged commit basis once the caller-supplied Program reports it has
// nothing left to do.
//
// A Transaction never blocks. Every read or write attempt either succeeds
// immediately against already-held state or triggers a message and returns
// false; the owning Program is re-invoked from Handle every time new state
// (a lock grant, a read result, an abort) arrives, until it returns true.
package txn

import (
	"fmt"

	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/router"
	"github.com/invpt/hig-proto/wire"
)

// Program is the caller-supplied body of a transaction: a plain action
// (read some values, write some values) or an upgrade (the same, plus
// Reconfigure/Retire of addressed nodes). Step is invoked whenever new
// state may let it make further progress; it must be idempotent on
// already-completed operations, since it will generally run many times
// before returning true.
type Program interface {
	Step(tc *Ctx) (done bool)
}

// ProgramFunc adapts a plain function to Program.
type ProgramFunc func(tc *Ctx) bool

func (f ProgramFunc) Step(tc *Ctx) bool { return f(tc) }

// Outcome is reported to the owner once a Transaction finishes, successfully
// or not.
type Outcome int

const (
	Committed Outcome = iota
	Aborted
)

// Observer is notified when a transaction reaches a terminal state, so the
// owning manager can retry an aborted low-priority transaction with a fresh
// TxId or report success to its caller.
type Observer interface {
	TransactionFinished(ctx *router.Context, id ident.TxId, outcome Outcome)
}

type pendingLock struct {
	kind    ident.LockKind
	version *ident.Version
}

type lockState struct {
	kind        ident.LockKind
	version     ident.Version
	nodeKind    wire.Kind
	basis       basis.Stamp
	roots       map[ident.Address]struct{}
	hasValue    bool
	value       any
	readPending bool
	wrote       bool
}

// Transaction drives exactly one action or upgrade. It implements
// router.Actor so the manager can spawn it and let the router deliver lock
// grants, read results, and aborts directly to it.
type Transaction struct {
	id       ident.TxId
	program  Program
	observer Observer

	mayWrite     map[ident.Address]struct{}
	pendingLocks map[ident.Address]pendingLock
	locks        map[ident.Address]*lockState

	finished bool
}

// New builds a Transaction for id, running program to completion once
// spawned. observer may be nil.
func New(id ident.TxId, program Program, observer Observer) *Transaction {
	return &Transaction{
		id:           id,
		program:      program,
		observer:     observer,
		mayWrite:     make(map[ident.Address]struct{}),
		pendingLocks: make(map[ident.Address]pendingLock),
		locks:        make(map[ident.Address]*lockState),
	}
}

// ID returns the transaction's identity.
func (t *Transaction) ID() ident.TxId { return t.id }

// MarkMayWrite records that address might be written by this transaction
// even though the program hasn't decided yet, forcing any lock subsequently
// requested on it to be Exclusive rather than Shared. Mirrors the
// write-uncertainty handling a real expression evaluator would drive from
// static analysis of the action/upgrade body; callers that know their
// writes up front can skip this and just Write directly.
func (t *Transaction) MarkMayWrite(addr ident.Address) {
	t.mayWrite[addr] = struct{}{}
}

// Handle implements router.Actor.
func (t *Transaction) Handle(ctx *router.Context, from router.Address, msg router.Message) {
	if t.finished {
		return
	}
	switch m := msg.(type) {
	case wire.LockGranted:
		if !t.onLockGranted(m) {
			// The node has moved past the version this transaction pinned:
			// the plan is stale, so the whole transaction aborts.
			t.onAborted(ctx)
			return
		}
	case wire.ReadResult:
		t.onReadResult(m)
	case wire.Preempt:
		// Wound-Wait: a younger transaction always yields to the preempting
		// elder rather than negotiate partial progress. Aborting entirely
		// (rather than releasing just the contested node) keeps the
		// transaction's view of its other locks consistent.
		t.onAborted(ctx)
		return
	case wire.Abort:
		t.onAborted(ctx)
		return
	case router.Unreachable:
		t.onAborted(ctx)
		return
	default:
		panic(fmt.Sprintf("txn: unexpected message type %T", msg))
	}
	t.runProgram(ctx)
}

// Start runs the program for the first time, from the Address the manager
// spawned this transaction under. Call once, immediately after Spawn.
func (t *Transaction) Start(ctx *router.Context) {
	t.runProgram(ctx)
}

func (t *Transaction) runProgram(ctx *router.Context) {
	if t.finished {
		return
	}
	tc := &Ctx{txn: t, rt: ctx}
	if t.program.Step(tc) {
		t.finish(ctx)
	}
}

// onLockGranted records the granted lock and reports whether its version
// matches the one pinned when it was requested (always true if none was).
func (t *Transaction) onLockGranted(m wire.LockGranted) bool {
	pk, ok := t.pendingLocks[m.Address]
	if !ok {
		panic("txn: granted a lock that was never requested")
	}
	delete(t.pendingLocks, m.Address)

	st := &lockState{kind: pk.kind, version: m.Version, nodeKind: m.Info.Kind, roots: m.Info.Ancestors}
	if m.Info.Kind == wire.KindVariable {
		st.basis = basis.Empty()
		st.basis.Add(m.Address, m.Info.Iteration)
	} else {
		st.basis = basis.Empty()
	}
	t.locks[m.Address] = st
	return pk.version == nil || *pk.version == m.Version
}

func (t *Transaction) onReadResult(m wire.ReadResult) {
	st, ok := t.locks[m.Address]
	if !ok || !st.readPending {
		panic("txn: read result for a lock that wasn't waiting on one")
	}
	st.hasValue = true
	st.value = m.Value.Value
	st.basis = m.Value.Basis.Clone()
	st.readPending = false
}

func (t *Transaction) onAborted(ctx *router.Context) {
	if t.finished {
		return
	}
	t.finished = true
	for addr := range t.locks {
		ctx.Send(addr, wire.Abort{TxId: t.id})
	}
	for addr := range t.pendingLocks {
		ctx.Send(addr, wire.Abort{TxId: t.id})
	}
	ctx.Retire()
	if t.observer != nil {
		t.observer.TransactionFinished(ctx, t.id, Aborted)
	}
}

// finish computes the merged commit basis over every lock this transaction
// actually wrote through or read from, and releases every held lock with
// it. A lock that was acquired but never used still releases (with the
// empty contribution) so the node can grant the next queued request.
func (t *Transaction) finish(ctx *router.Context) {
	if t.finished {
		return
	}
	t.finished = true

	commit := basis.Empty()
	for addr, st := range t.locks {
		if st.hasValue || st.wrote {
			commit.MergeFrom(st.basis)
		}
		if st.wrote {
			commit.Add(addr, st.basis.Latest(addr)+1)
		}
	}
	for addr := range t.locks {
		ctx.Send(addr, wire.Release{TxId: t.id, Basis: commit})
	}
	ctx.Retire()
	if t.observer != nil {
		t.observer.TransactionFinished(ctx, t.id, Committed)
	}
}

// ensureLock returns the lockState for addr if already granted, requesting
// it (at the given kind, upgraded to Exclusive if addr is in mayWrite) and
// returning nil otherwise. version, if non-nil, pins the expected node
// version (used by upgrades reconfiguring a specific, previously-observed
// incarnation of a node).
func (t *Transaction) ensureLock(ctx *router.Context, addr ident.Address, kind ident.LockKind, version *ident.Version) *lockState {
	if st, ok := t.locks[addr]; ok {
		return st
	}
	if _, pending := t.pendingLocks[addr]; pending {
		return nil
	}
	if _, may := t.mayWrite[addr]; may {
		kind = ident.Exclusive
	}
	t.pendingLocks[addr] = pendingLock{kind: kind, version: version}
	ctx.Send(addr, wire.Lock{TxId: t.id, Kind: kind})
	return nil
}
