package txn

import (
	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/router"
	"github.com/invpt/hig-proto/wire"
)

// Ctx is the capability a Program receives on every Step call: the narrow
// read/write surface an expression evaluator would consult, kept separate
// from inheriting the whole Transaction so the two evaluation contexts
// (reads, writes) stay independently mockable.
type Ctx struct {
	txn *Transaction
	rt  *router.Context
}

// TxId returns the identity of the transaction driving this Ctx.
func (c *Ctx) TxId() ident.TxId { return c.txn.id }

// Spawn creates a brand-new actor from within a Program's Step, for
// upgrades that introduce nodes the directory has never heard of. Spawning
// needs no lock: the node doesn't exist yet, so nothing can contend for it.
func (c *Ctx) Spawn(factory func(ctx *router.Context) router.Actor) ident.Address {
	return c.rt.Spawn(factory)
}

// Router exposes the underlying router.Context, for Programs that need to
// hand it to a collaborator outside this package (e.g. directory.Directory,
// whose Create/Update/Delete methods disseminate gossip via ctx.Send).
func (c *Ctx) Router() *router.Context { return c.rt }

// Read returns the node's current value once available. ok is false if the
// read is still in flight (a lock grant or the read result itself hasn't
// arrived); the Program should simply return false from Step and wait to
// be invoked again.
func (c *Ctx) Read(addr ident.Address) (any, bool) {
	st := c.txn.ensureLock(c.rt, addr, ident.Shared, nil)
	if st == nil {
		return nil, false
	}
	if st.hasValue {
		return st.value, true
	}
	if st.readPending {
		return nil, false
	}

	switch st.nodeKind {
	case wire.KindVariable:
		c.rt.Send(addr, wire.Read{TxId: c.txn.id, Basis: st.basis.Clone()})
		st.readPending = true
		return nil, false
	default:
		// A definition's value depends on its ancestor roots: gather a
		// shared lock (and basis contribution) on each before asking.
		b := basis.Empty()
		for root := range st.roots {
			rootSt := c.txn.ensureLock(c.rt, root, ident.Shared, nil)
			if rootSt == nil {
				return nil, false
			}
			b.Add(root, rootSt.basis.Latest(root))
		}
		c.rt.Send(addr, wire.Read{TxId: c.txn.id, Basis: b})
		st.readPending = true
		return nil, false
	}
}

// Write stages value on addr, sent immediately once the Exclusive lock is
// held. Returns false (without effect) if the lock hasn't been granted yet.
func (c *Ctx) Write(addr ident.Address, value any) bool {
	st := c.txn.ensureLock(c.rt, addr, ident.Exclusive, nil)
	if st == nil {
		return false
	}
	if st.readPending {
		return false
	}
	if !st.hasValue && !st.wrote {
		iter := st.basis.Latest(addr)
		st.basis = basis.Empty()
		st.basis.Add(addr, iter)
	}
	st.value = value
	st.hasValue = true
	st.wrote = true
	c.rt.Send(addr, wire.Write{TxId: c.txn.id, Value: value})
	return true
}

// Reconfigure stages a new Configuration on addr, requesting an Exclusive
// lock first if none is held yet and returning false until it is granted.
// Applied at release time by the node.
func (c *Ctx) Reconfigure(addr ident.Address, cfg wire.Configuration) bool {
	st := c.txn.ensureLock(c.rt, addr, ident.Exclusive, nil)
	if st == nil {
		return false
	}
	c.rt.Send(addr, wire.Reconfigure{TxId: c.txn.id, Configuration: cfg})
	st.wrote = true
	return true
}

// LockExclusiveVersioned requests an Exclusive lock on addr, pinned to a
// specific previously-observed Version, for upgrades that must not act on a
// node that has moved on since the upgrade was planned. Returns the current
// Version once granted. If the granted version differs, the whole
// transaction aborts and its observer sees an Aborted outcome.
func (c *Ctx) LockExclusiveVersioned(addr ident.Address, version ident.Version) (ident.Version, bool) {
	st := c.txn.ensureLock(c.rt, addr, ident.Exclusive, &version)
	if st == nil {
		return 0, false
	}
	return st.version, true
}

// Retire stages retirement of addr, applied after any staged subscription
// updates at release time.
func (c *Ctx) Retire(addr ident.Address) bool {
	st := c.txn.ensureLock(c.rt, addr, ident.Exclusive, nil)
	if st == nil {
		return false
	}
	c.rt.Send(addr, wire.RetireNode{TxId: c.txn.id})
	st.wrote = true
	return true
}

// Subscribe stages a subscription change on addr (held Shared or
// Exclusive): subscribe=true adds subscriber as a listener for Propagate,
// false removes it.
func (c *Ctx) Subscribe(addr, subscriber ident.Address, subscribe bool) bool {
	st := c.txn.ensureLock(c.rt, addr, ident.Shared, nil)
	if st == nil {
		return false
	}
	c.rt.Send(addr, wire.UpdateSubscriptions{
		TxId:    c.txn.id,
		Changes: map[ident.Address]bool{subscriber: subscribe},
	})
	return true
}
