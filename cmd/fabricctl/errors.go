package main

import (
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/invpt/hig-proto/txn"
)

// classifyOutcome turns a finished transaction's outcome into an error a
// caller can branch on with errdefs.Is*, rather than a bare string: a
// retryable Low-priority exhaustion looks different from an Upgrade that
// lost to a stale plan.
func classifyOutcome(priorityIsUpgrade bool, outcome txn.Outcome) error {
	if outcome == txn.Committed {
		return nil
	}
	if priorityIsUpgrade {
		return fmt.Errorf("upgrade aborted, plan is stale: %w", errdefs.ErrConflict)
	}
	return fmt.Errorf("action exhausted its retry budget: %w", errdefs.ErrUnavailable)
}
