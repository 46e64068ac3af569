package emit

import "context"

// Emitter receives observability events raised during transaction
// processing. Implementations must not block the caller for long: the
// router is single-threaded, so a slow Emit stalls every actor in the
// system.
type Emitter interface {
	// Emit sends a single event. It must not panic; a failing backend
	// should log internally and drop the event rather than propagate an
	// error into the caller's hot path.
	Emit(event Event)

	// EmitBatch sends multiple events at once, preserving order. Useful
	// for backends where per-event overhead dominates (network emitters,
	// batched span exporters).
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until every buffered event has been sent or ctx expires.
	Flush(ctx context.Context) error
}
