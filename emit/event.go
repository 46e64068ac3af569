// Package emit provides pluggable observability for the fabric: lock
// grants, preempts, commits, aborts, retirements, and directory gossip can
// all be emitted as Events without the rest of the system depending on any
// particular logging or tracing backend.
package emit

// Event is one observability event raised somewhere in the fabric.
type Event struct {
	// TxId identifies the transaction this event concerns, formatted via
	// its String method. Empty for events with no associated transaction
	// (directory gossip, router-level diagnostics).
	TxId string

	// Address identifies the node or manager this event concerns, if any.
	Address string

	// Msg is a short, stable event name, e.g. "lock_granted", "preempted",
	// "committed", "aborted", "retired", "gossip_sent".
	Msg string

	// Meta carries event-specific structured data, e.g. "kind": "exclusive",
	// "reason": "version_mismatch", "peer": "#3".
	Meta map[string]any
}
