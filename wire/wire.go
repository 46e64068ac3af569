// Package wire defines the message taxonomy exchanged between reactive
// nodes, transactions, and managers. These types double as the system's
// cross-host RPC surface were one to serialise them — nothing in this
// package depends on the router's in-process delivery, so a future
// transport could marshal these structs directly.
package wire

import (
	"github.com/invpt/hig-proto/basis"
	"github.com/invpt/hig-proto/ident"
)

// Lock requests a lock of the given kind on the receiving node, queued in
// TxId order and granted per the Wound-Wait rules in node.grantLocks.
type Lock struct {
	TxId ident.TxId
	Kind ident.LockKind
}

// LockGranted is sent back to the requester once its Lock is granted. Info
// carries enough about the node's current state that the transaction can
// decide how to read it without a further round trip.
type LockGranted struct {
	TxId    ident.TxId
	Address ident.Address
	Version ident.Version
	Info    KindInfo
}

// Kind distinguishes the two flavors of reactive node.
type Kind uint8

const (
	KindVariable Kind = iota
	KindDefinition
)

// KindInfo is carried on LockGranted so a transaction knows how to treat
// the node: a Variable publishes Iteration directly, while a Definition
// publishes the set of root Ancestors a reader must separately hold shared
// locks on (and union bases over) before a Read can be satisfied.
type KindInfo struct {
	Kind      Kind
	Iteration ident.Iteration
	Ancestors map[ident.Address]struct{}
}

// Preempt asks a younger holder to abort. It is idempotent on the sender
// side (sent at most once per holder per contest) but a receiver may see it
// more than once across separate contests, so handling it must tolerate
// redundant deliveries: always eventually reply with Abort.
type Preempt struct {
	TxId ident.TxId
}

// Abort withdraws a lock request or releases a held lock with no effect,
// used both as the Wound-Wait reply to Preempt and as a transaction's own
// failure path (e.g. VersionMismatch).
type Abort struct {
	TxId ident.TxId
}

// Release relinquishes a held lock, carrying the transaction's merged
// commit basis. The node stamps whatever change it applies (or the `reads`
// watermark it has accumulated) with this basis before propagating.
type Release struct {
	TxId  ident.TxId
	Basis basis.Stamp
}

// Read asks a node holding a Shared lock for its current value, with Basis
// describing how causally advanced the requester already is. If the node's
// published value is not yet at least that advanced on the node's ancestor
// roots, the read is deferred until a later update_value wakes it.
type Read struct {
	TxId  ident.TxId
	Basis basis.Stamp
}

// ReadResult answers a Read once the node has a sufficiently advanced
// value.
type ReadResult struct {
	TxId    ident.TxId
	Address ident.Address
	Value   basis.StampedValue
}

// Write stages a new value on a node holding an Exclusive lock. It is
// fire-and-forget: the actual publication happens at Release time via
// apply_changes.
type Write struct {
	TxId  ident.TxId
	Value any
}

// Reconfigure replaces a node's Configuration (definition expression and
// inputs, or a variable's existence) while the sender holds Exclusive.
// Applied at Release time, after which the node's Version is bumped.
type Reconfigure struct {
	TxId          ident.TxId
	Configuration Configuration
}

// RetireNode marks a node for retirement, applied at Release time after
// subscriber updates are flushed.
type RetireNode struct {
	TxId ident.TxId
}

// UpdateSubscriptions merges a subscriber delta (true = subscribe, false =
// unsubscribe) into the sender's Shared lock state, applied in the order
// received at Release time.
type UpdateSubscriptions struct {
	TxId    ident.TxId
	Changes map[ident.Address]bool
}

// Propagate carries a freshly computed StampedValue from a node to one of
// its subscribers. Definition nodes are the only actors that react to it by
// enqueueing into a per-input update queue; anything else receiving it
// unexpectedly is a protocol violation.
type Propagate struct {
	Sender ident.Address
	Value  basis.StampedValue
}

// Configuration describes what a node is: either a Variable with an
// optional seed value, or a Definition over a set of named inputs. It is
// used both when spawning a brand-new node and when Reconfigure replaces an
// existing one.
type Configuration struct {
	Kind Kind

	// Variable fields.
	InitialValue    any
	HasInitialValue bool

	// Definition fields.
	Expr   DefinitionExpr
	Inputs []InputSpec
}

// InputSpec names one input of a definition: the address it reads from and
// the set of root variables transitively reachable through it (its
// ancestor set). A definition's own ancestor set is the union of its
// inputs' ancestor sets.
type InputSpec struct {
	Name      string
	Address   ident.Address
	Ancestors map[ident.Address]struct{}
}

// DefinitionExpr is the pure function a Definition recomputes whenever a
// consistent batch of input updates lands. It is intentionally the
// narrowest possible interface onto the (out of scope) expression
// evaluator: given a snapshot of named input values, produce an output
// value.
type DefinitionExpr interface {
	Eval(inputs map[string]any) any
}

// DefinitionExprFunc adapts a plain function to DefinitionExpr.
type DefinitionExprFunc func(inputs map[string]any) any

func (f DefinitionExprFunc) Eval(inputs map[string]any) any { return f(inputs) }
