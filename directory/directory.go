// Package directory implements the cross-manager name directory as a
// state-based CRDT: every manager runs a Directory actor that merges
// incoming gossip into its local state and forwards whatever actually
// changed to its peers. Convergence follows from each field being a
// join-semilattice: manager membership is "once deleted, stays deleted",
// and per-name entries resolve deleted-wins, else higher-iteration-wins.
package directory

import (
	"encoding/json"

	"github.com/OneOfOne/xxhash"
	"github.com/seiflotfy/cuckoofilter"

	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/router"
)

// EntryID names one directory entry's provenance: the transaction that
// created it. Two managers racing to claim the same Name each get their own
// EntryID, so both survive until a Delete reconciles them.
type EntryID struct {
	TxId ident.TxId
}

// EntryState is either a live mapping to a runtime address, tagged with the
// iteration at which it was last updated, or a tombstone. Once Deleted, an
// entry never becomes Existing again.
type EntryState struct {
	Deleted   bool
	Iteration uint64
	Address   ident.Address
}

// State is the full gossiped payload: every known manager (and whether it
// has been deleted from the membership set) plus every name's set of
// entries. It is a plain value so it can be merged, hashed, and persisted
// independently of the actor that owns it.
type State struct {
	Managers map[ident.Address]bool // true = deleted
	Nodes    map[ident.Name]map[EntryID]EntryState
}

func newState() State {
	return State{
		Managers: make(map[ident.Address]bool),
		Nodes:    make(map[ident.Name]map[EntryID]EntryState),
	}
}

// Clone deep-copies a State so it's safe to hand across a gossip message
// boundary without aliasing the sender's live maps.
func (s State) Clone() State {
	out := newState()
	for addr, deleted := range s.Managers {
		out.Managers[addr] = deleted
	}
	for name, entries := range s.Nodes {
		copied := make(map[EntryID]EntryState, len(entries))
		for id, e := range entries {
			copied[id] = e
		}
		out.Nodes[name] = copied
	}
	return out
}

// Gossip is the message a Directory actor exchanges with its peers,
// carrying a full state snapshot.
type Gossip struct {
	State State
}

// Snapshotter persists directory state for local inspection or recovery. A
// buntdb-backed implementation lives in store.go; tests and simple demos can
// use a nil Snapshotter since persistence is advisory, not load-bearing —
// the CRDT re-converges from gossip on restart regardless.
type Snapshotter interface {
	Save(State) error
}

// Directory is the per-manager actor hosting one replica of the CRDT.
type Directory struct {
	self  ident.Address
	state State
	seen  *cuckoofilter.CuckooFilter // dedups identical gossip payloads by content hash
	snap  Snapshotter
}

// New builds a Directory for the manager at self, seeded with the given
// peer addresses (none deleted yet). snap may be nil.
func New(self ident.Address, seedPeers []ident.Address, snap Snapshotter) *Directory {
	d := &Directory{
		self: self,
		state: State{
			Managers: make(map[ident.Address]bool),
			Nodes:    make(map[ident.Name]map[EntryID]EntryState),
		},
		seen: cuckoofilter.NewCuckooFilter(1024),
		snap: snap,
	}
	for _, p := range seedPeers {
		d.state.Managers[p] = false
	}
	d.state.Managers[self] = false
	return d
}

// Handle implements router.Actor.
func (d *Directory) Handle(ctx *router.Context, from router.Address, msg router.Message) {
	switch m := msg.(type) {
	case Gossip:
		d.mergeAndUpdate(ctx, m.State)
	case router.Unreachable:
		// A peer that vanished mid-gossip is handled the next time any
		// gossip names it; nothing to do here.
	default:
		panic("directory: unexpected message type")
	}
}

// Lookup returns every live (non-deleted) entry for name.
func (d *Directory) Lookup(name ident.Name) map[EntryID]ident.Address {
	out := make(map[EntryID]ident.Address)
	for id, e := range d.state.Nodes[name] {
		if !e.Deleted {
			out[id] = e.Address
		}
	}
	return out
}

// Create claims name for a brand-new address under txid. Panics if name
// already has a live (non-deleted) entry, mirroring the "claim a fresh
// name" precondition a transaction's upgrade phase enforces before calling
// this.
func (d *Directory) Create(ctx *router.Context, name ident.Name, address ident.Address, txid ident.TxId) {
	entries := d.state.Nodes[name]
	if entries == nil {
		entries = make(map[EntryID]EntryState)
		d.state.Nodes[name] = entries
	}
	for _, e := range entries {
		if !e.Deleted {
			panic("directory: name already has a live entry")
		}
	}
	entries[EntryID{TxId: txid}] = EntryState{Address: address}
	d.disseminate(ctx)
}

// Update bumps an existing live entry to a new address (a reconfigure that
// respawned the node under the same name).
func (d *Directory) Update(ctx *router.Context, name ident.Name, id EntryID, newAddress ident.Address) {
	entries := d.state.Nodes[name]
	if entries == nil {
		panic("directory: no entries for name")
	}
	e, ok := entries[id]
	if !ok || e.Deleted {
		panic("directory: entry missing or deleted")
	}
	e.Iteration++
	e.Address = newAddress
	entries[id] = e
	d.disseminate(ctx)
}

// Delete tombstones an entry. Tombstones never revert.
func (d *Directory) Delete(ctx *router.Context, name ident.Name, id EntryID) {
	entries := d.state.Nodes[name]
	if entries == nil {
		return
	}
	e := entries[id]
	e.Deleted = true
	entries[id] = e
	d.disseminate(ctx)
}

func (d *Directory) mergeAndUpdate(ctx *router.Context, incoming State) {
	digest := hashState(incoming)
	if d.seen.Lookup(digest) {
		return
	}
	d.seen.InsertUnique(digest)

	changed := false
	for peer, deleted := range incoming.Managers {
		localDeleted, known := d.state.Managers[peer]
		switch {
		case !known:
			d.state.Managers[peer] = deleted
			changed = true
		case deleted && !localDeleted:
			d.state.Managers[peer] = true
			changed = true
		}
	}

	for name, incomingEntries := range incoming.Nodes {
		local := d.state.Nodes[name]
		if local == nil {
			local = make(map[EntryID]EntryState)
			d.state.Nodes[name] = local
		}
		for id, incomingEntry := range incomingEntries {
			existing, ok := local[id]
			if !ok {
				local[id] = incomingEntry
				changed = true
				continue
			}
			if merged := mergeEntry(existing, incomingEntry); merged != existing {
				local[id] = merged
				changed = true
			}
		}
	}

	if d.snap != nil {
		_ = d.snap.Save(d.state.Clone())
	}

	// Any actual change to local state, not just a newly-learned peer, must
	// go back out to every peer that might not have seen it yet — a peer
	// this manager already knew about before this merge can still be
	// missing the entry or membership change that just landed.
	if changed {
		d.disseminate(ctx)
	}
}

// mergeEntry resolves two views of the same EntryID: a tombstone always
// wins, and between two live states the higher iteration wins.
func mergeEntry(local, incoming EntryState) EntryState {
	if local.Deleted {
		return local
	}
	if incoming.Deleted {
		return incoming
	}
	if incoming.Iteration > local.Iteration {
		return incoming
	}
	return local
}

func (d *Directory) disseminate(ctx *router.Context) {
	snapshot := d.state.Clone()
	if d.snap != nil {
		_ = d.snap.Save(snapshot)
	}
	for peer, deleted := range d.state.Managers {
		if deleted || peer == d.self {
			continue
		}
		ctx.Send(peer, Gossip{State: snapshot})
	}
}

// hashState gives a content digest used purely to short-circuit re-merging
// (and re-disseminating) an identical gossip payload we've already applied;
// it is not part of the CRDT's correctness, only its chatter.
func hashState(s State) []byte {
	// json.Marshal on maps sorts keys, so two equal States always hash
	// identically regardless of map iteration order.
	data, err := json.Marshal(stateForHash(s))
	if err != nil {
		return nil
	}
	h := xxhash.New64()
	_, _ = h.Write(data)
	sum := h.Sum64()
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(sum >> (8 * i))
	}
	return out
}

func stateForHash(s State) map[string]any {
	managers := make(map[string]bool, len(s.Managers))
	for addr, deleted := range s.Managers {
		managers[addr.String()] = deleted
	}
	nodes := make(map[string]map[string]EntryState, len(s.Nodes))
	for name, entries := range s.Nodes {
		m := make(map[string]EntryState, len(entries))
		for id, e := range entries {
			m[id.TxId.String()] = e
		}
		nodes[string(name)] = m
	}
	return map[string]any{"managers": managers, "nodes": nodes}
}
