// Package ident defines the primitive identifiers shared across every layer
// of the reactive fabric: actor addresses, per-node schema versions, per-
// variable iteration counters, and the lexicographically ordered transaction
// identifiers that drive Wound-Wait preemption.
//
// Nothing in this package depends on the router, node, or transaction
// machinery; it exists purely so those packages can agree on comparable,
// hashable key types without importing each other.
package ident

import "fmt"

// Address is an opaque, router-local identifier for an actor instance. It is
// allocated by Router.Spawn as a monotonically increasing index and never
// reused, so equality and ordering on Address are equality and ordering on
// that index.
type Address struct {
	idx uint64
}

// NewAddress constructs an Address from a raw router-local index. Only the
// router package should call this; everyone else receives Addresses from
// Spawn or from messages.
func NewAddress(idx uint64) Address { return Address{idx: idx} }

// Index returns the raw router-local index, mostly useful for logging,
// metrics labels, and deterministic hashing.
func (a Address) Index() uint64 { return a.idx }

// Less reports whether a sorts before b. Used to keep ordered containers
// (e.g. the Shared lock-holder map) iterating in a stable, deterministic
// order.
func (a Address) Less(b Address) bool { return a.idx < b.idx }

func (a Address) String() string { return fmt.Sprintf("#%d", a.idx) }

// Version is a per-node schema-change counter. It is bumped every time a
// node is reconfigured (its definition or variable-ness changes identity)
// and gates "Existing(addr, version)" lock requests used by upgrades: a
// transaction that names a stale version aborts with VersionMismatch rather
// than silently acting on a graph that has moved on.
type Version uint64

// Iteration is a per-variable logical clock. It only advances on a commit
// that actually writes the variable; reads and propagation through
// definitions never bump it. BasisStamp entries are Iterations keyed by the
// Address of the variable (root) they describe.
type Iteration uint64

// Priority distinguishes upgrade transactions (schema changes) from action
// transactions (plain reads/writes). High-priority transactions sort before
// Low-priority ones with an otherwise identical timestamp, so an upgrade
// racing a data transaction always wins Wound-Wait and is never starved by
// a continuous stream of actions.
type Priority uint8

const (
	High Priority = iota
	Low
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// Timestamp is a monotonically increasing, process-local logical clock used
// as the tie-breaker component of a TxId. See the clock package for the
// generator that produces these.
type Timestamp uint64

// TxId totally orders transactions: (Priority, Timestamp, Originator). The
// ordering is lexicographic in that field order, so High-priority upgrades
// precede Low-priority actions regardless of timestamp, ties within a
// priority are broken by timestamp, and ties within a (priority, timestamp)
// pair (which can only happen across distinct managers racing the same
// tick) are broken by the originating manager's Address. The smaller TxId
// always wins a Wound-Wait contest.
type TxId struct {
	Priority    Priority
	Timestamp   Timestamp
	Originator  Address
}

// Less implements the total order described above.
func (t TxId) Less(o TxId) bool {
	if t.Priority != o.Priority {
		return t.Priority < o.Priority
	}
	if t.Timestamp != o.Timestamp {
		return t.Timestamp < o.Timestamp
	}
	return t.Originator.Less(o.Originator)
}

// Equal reports structural equality.
func (t TxId) Equal(o TxId) bool {
	return t.Priority == o.Priority && t.Timestamp == o.Timestamp && t.Originator == o.Originator
}

func (t TxId) String() string {
	return fmt.Sprintf("tx(%s,%d,%s)", t.Priority, t.Timestamp, t.Originator)
}

// LockKind is the mode a transaction requests or holds a lock in.
type LockKind uint8

const (
	Shared LockKind = iota
	Exclusive
)

func (k LockKind) String() string {
	if k == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Name is a directory-visible identifier for a reactive node, distinct from
// its runtime Address: many Addresses may claim the same Name over time
// (e.g. across reconfiguration), and the directory's multi-value register
// reconciles them.
type Name string
