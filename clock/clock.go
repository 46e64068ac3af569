// Package clock mints TxIds and computes retry backoff for the manager
// package. The logical clock is a simple process-local counter: correctness
// only requires that Timestamps minted by a single Clock strictly increase,
// never that they approximate wall time.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/invpt/hig-proto/ident"
)

// Clock mints TxIds for one manager. Safe for concurrent use.
type Clock struct {
	originator ident.Address
	counter    uint64
}

// New builds a Clock for a manager running at the given Address.
func New(originator ident.Address) *Clock {
	return &Clock{originator: originator}
}

// Next mints a fresh TxId at the given priority. Each call strictly
// increases the Timestamp component, so TxIds of the same priority minted
// by the same Clock are ordered by minting order; across priorities, the
// High one sorts first whatever its Timestamp.
func (c *Clock) Next(priority ident.Priority) ident.TxId {
	ts := atomic.AddUint64(&c.counter, 1)
	return ident.TxId{
		Priority:   priority,
		Timestamp:  ident.Timestamp(ts),
		Originator: c.originator,
	}
}

// RetryPolicy configures the backoff a manager applies between abort and
// re-attempt of the same logical operation.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Must be >= 1.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultRetryPolicy mirrors the values a manager uses when none are
// supplied explicitly: quick initial retries that back off to a one-second
// ceiling, since Wound-Wait guarantees an aborted low-priority transaction
// will eventually succeed once the winner releases its locks.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 8,
	BaseDelay:   2 * time.Millisecond,
	MaxDelay:    1 * time.Second,
}

// Backoff computes the delay before the given zero-based retry attempt,
// using exponential backoff capped at MaxDelay. When jitter is non-nil,
// jitter(base) is added so that many transactions aborted by the same
// preemption don't all wake and retry in lockstep; a nil jitter adds none.
func Backoff(attempt int, policy RetryPolicy, jitter func(n time.Duration) time.Duration) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy.BaseDelay
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy.MaxDelay
	}
	delay := base * (1 << uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	if jitter == nil {
		return delay
	}
	return delay + jitter(base)
}
