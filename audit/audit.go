// Package audit persists an append-only record of transaction outcomes,
// independent of the in-memory fabric: a Log entry survives process
// restarts even though the router state it describes does not. This is
// strictly an observability trail, not the durable store the in-memory
// system is explicitly built to avoid — replaying a Log never reconstructs
// node state, it only answers "what happened, and when."
package audit

import (
	"context"
	"time"
)

// Entry is one recorded transaction outcome.
type Entry struct {
	TxId      string
	Address   string
	Outcome   string // "committed" or "aborted"
	Detail    string
	Timestamp time.Time
}

// Log appends and queries audit entries. Implementations must make Append
// safe to call from the single router goroutine without blocking it for
// long; both SQLiteLog and MySQLLog satisfy this with short transactions
// against a local connection pool.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
