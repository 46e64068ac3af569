// Package lock implements HeldLocks, the mode-indexed container a reactive
// node uses to track who currently holds it and what they intend to do with
// that hold. It is a tagged union rather than an interface hierarchy:
// exactly one of None, Shared, or Exclusive describes the node at any time,
// and callers switch on which.
package lock

import (
	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/wire"

	"github.com/invpt/hig-proto/ident"
)

// Mode tags which shape HeldLocks is currently in.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeShared
	ModeExclusive
)

// ReadState tracks at most one outstanding Read per holder.
type ReadState uint8

const (
	ReadNone ReadState = iota
	ReadPending
	ReadComplete
)

// SharedState is the per-holder bookkeeping common to every Shared holder,
// including the Shared side of an Exclusive hold (an exclusive holder is
// always logically a shared holder too).
type SharedState struct {
	// Preempting is set once a Preempt has been sent to this holder, so a
	// contest never sends it twice.
	Preempting bool

	// SubscriptionUpdates accumulates a subscriber delta (true=subscribe,
	// false=unsubscribe) to be applied, in request order, at Release time.
	SubscriptionUpdates []SubscriptionChange

	// Read is Pending(basis) while a Read is outstanding and awaiting a
	// sufficiently advanced value, or Complete once answered. For a holder
	// whose read is Complete, the Release basis is folded into the node's
	// `reads` accumulator.
	Read        ReadState
	PendingRead basis.Stamp
}

// SubscriptionChange is one entry of a subscriber delta, kept as an ordered
// slice (rather than a plain map) so Release-time application happens in
// request order, matching apply_changes step 3.
type SubscriptionChange struct {
	Subscriber ident.Address
	Subscribe  bool
}

// ExclusiveKind tags the staged mutation an Exclusive holder intends to
// apply at Release.
type ExclusiveKind uint8

const (
	ExclusiveUnchanged ExclusiveKind = iota
	ExclusiveWrite
	ExclusiveUpdate
	ExclusiveRetire
)

// ExclusiveState is the staged exclusive-only action: Unchanged until a
// Write or Reconfigure or Retire message arrives, after which it holds
// exactly one of those. A Write followed by a Reconfigure on the same hold
// folds into Update: when the new configuration is a Variable with no
// initial value of its own, the staged write value becomes that initial
// value; otherwise the staged write is discarded.
type ExclusiveState struct {
	Kind          ExclusiveKind
	WriteValue    any
	Configuration wire.Configuration
}

// holder pairs a TxId with its SharedState, kept in an ordered slice so
// that eldest-first iteration (required by grantLocks) doesn't need a
// separate sorted index structure for the small holder sets this system
// expects.
type holder struct {
	txid  ident.TxId
	state SharedState
}

// HeldLocks is the tagged union described above. The zero value is a valid
// "None" state.
type HeldLocks struct {
	mode Mode

	// Populated when mode == ModeShared: holders ordered by ascending TxId
	// (eldest first).
	shared []holder

	// Populated when mode == ModeExclusive.
	exclusiveTxid ident.TxId
	exclusiveSh   SharedState
	exclusiveEx   ExclusiveState
}

// Mode reports which shape the container is currently in.
func (h *HeldLocks) Mode() Mode { return h.mode }

// IsNone reports whether nothing is held.
func (h *HeldLocks) IsNone() bool { return h.mode == ModeNone }

// Exclusive returns the exclusive holder's TxId, and true, when mode is
// ModeExclusive.
func (h *HeldLocks) Exclusive() (ident.TxId, bool) {
	if h.mode != ModeExclusive {
		return ident.TxId{}, false
	}
	return h.exclusiveTxid, true
}

// SharedHolders returns the TxIds currently holding Shared, eldest first.
// For an Exclusive hold this returns the single exclusive holder, since it
// is logically also a shared holder.
func (h *HeldLocks) SharedHolders() []ident.TxId {
	switch h.mode {
	case ModeShared:
		out := make([]ident.TxId, len(h.shared))
		for i, hd := range h.shared {
			out[i] = hd.txid
		}
		return out
	case ModeExclusive:
		return []ident.TxId{h.exclusiveTxid}
	default:
		return nil
	}
}

// Shared returns the SharedState for txid, whether held as a pure Shared
// holder or as the shared half of an Exclusive hold.
func (h *HeldLocks) Shared(txid ident.TxId) (*SharedState, bool) {
	switch h.mode {
	case ModeShared:
		for i := range h.shared {
			if h.shared[i].txid.Equal(txid) {
				return &h.shared[i].state, true
			}
		}
	case ModeExclusive:
		if h.exclusiveTxid.Equal(txid) {
			return &h.exclusiveSh, true
		}
	}
	return nil, false
}

// ExclusiveFor returns the ExclusiveState for txid if it is the exclusive
// holder.
func (h *HeldLocks) ExclusiveFor(txid ident.TxId) (*ExclusiveState, bool) {
	if h.mode != ModeExclusive || !h.exclusiveTxid.Equal(txid) {
		return nil, false
	}
	return &h.exclusiveEx, true
}

// GrantShared adds txid as a new Shared holder. The caller is responsible
// for having already checked compatibility (mode is None or Shared).
func (h *HeldLocks) GrantShared(txid ident.TxId) {
	if h.mode == ModeNone {
		h.mode = ModeShared
		h.shared = nil
	}
	// Keep the slice ordered by ascending TxId (eldest first) via
	// insertion sort; holder counts are small so this is cheap and keeps
	// grantLocks's eldest-first scan trivial.
	idx := 0
	for idx < len(h.shared) && h.shared[idx].txid.Less(txid) {
		idx++
	}
	h.shared = append(h.shared, holder{})
	copy(h.shared[idx+1:], h.shared[idx:])
	h.shared[idx] = holder{txid: txid}
}

// GrantExclusive transitions to ModeExclusive for txid. The caller must
// have ensured mode is currently None.
func (h *HeldLocks) GrantExclusive(txid ident.TxId) {
	h.mode = ModeExclusive
	h.exclusiveTxid = txid
	h.exclusiveSh = SharedState{}
	h.exclusiveEx = ExclusiveState{}
	h.shared = nil
}

// Remove drops txid from whatever shape currently holds it, returning to
// ModeNone if nothing remains.
func (h *HeldLocks) Remove(txid ident.TxId) {
	switch h.mode {
	case ModeShared:
		for i := range h.shared {
			if h.shared[i].txid.Equal(txid) {
				h.shared = append(h.shared[:i], h.shared[i+1:]...)
				break
			}
		}
		if len(h.shared) == 0 {
			h.mode = ModeNone
		}
	case ModeExclusive:
		if h.exclusiveTxid.Equal(txid) {
			h.mode = ModeNone
		}
	}
}
