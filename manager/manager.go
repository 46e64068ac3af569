// Package manager is the entry point a client calls to run an action or an
// upgrade against the fabric: it mints a TxId, spawns a Transaction actor to
// drive it, and — for Low-priority actions aborted by Wound-Wait — retries
// with a fresh, later TxId after an exponential backoff. Upgrades are
// minted High-priority so they are never themselves starved by a stream of
// actions, per the ordering ident.TxId documents.
package manager

import (
	"context"
	"time"

	"github.com/invpt/hig-proto/audit"
	"github.com/invpt/hig-proto/clock"
	"github.com/invpt/hig-proto/directory"
	"github.com/invpt/hig-proto/emit"
	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/metrics"
	"github.com/invpt/hig-proto/router"
	"github.com/invpt/hig-proto/txn"
)

// ProgramFactory builds a fresh txn.Program for one attempt at an
// operation. It must not reuse state from a previous attempt: a retried
// transaction starts with no locks and no partial reads.
type ProgramFactory func() txn.Program

// ResultFunc is invoked exactly once, when an operation finally commits or
// exhausts its retry budget.
type ResultFunc func(outcome txn.Outcome)

// Scheduler defers a retry attempt by delay. In production this wraps
// time.AfterFunc; tests substitute an immediate call to exercise retry
// logic without sleeping a real clock.
type Scheduler interface {
	After(delay time.Duration, fn func())
}

// RealScheduler schedules retries on the real wall clock. time.AfterFunc
// runs fn on its own goroutine, so fn is routed through rt.Defer rather
// than invoked directly: Router state (actors, queue, a Manager's inflight
// map) is only safe to touch from whatever goroutine is pumping rt via
// Step/Run/RunUntilIdle.
type RealScheduler struct {
	rt *router.Router
}

func (s RealScheduler) After(delay time.Duration, fn func()) {
	time.AfterFunc(delay, func() { s.rt.Defer(fn) })
}

// Manager owns one TxId-minting clock and one Directory replica, and is the
// Observer every Transaction it spawns reports back to.
type Manager struct {
	// self labels this manager's audit/emit events and seeds its Clock; it
	// is not a router.Actor address and never receives a reply directly —
	// each Transaction spawn corrects its own TxId.Originator to its own
	// spawned Address for that.
	self     ident.Address
	rt       *router.Router
	clock    *clock.Clock
	dir      *directory.Directory
	metrics  *metrics.Metrics
	audit    audit.Log
	emitter  emit.Emitter
	retry    clock.RetryPolicy
	sched    Scheduler
	jitter   func(time.Duration) time.Duration
	inflight map[ident.TxId]*attempt
}

type attempt struct {
	program  ProgramFactory
	priority ident.Priority
	attempts int
	onResult ResultFunc
}

// New builds a Manager labeled self, spawning transactions and sending
// gossip through rt. self need not be (and in general is not) an address
// reachable through rt — see the Manager.self field doc. sched defaults to
// RealScheduler if nil.
func New(rt *router.Router, self ident.Address, dir *directory.Directory, sched Scheduler) *Manager {
	if sched == nil {
		sched = RealScheduler{rt: rt}
	}
	return &Manager{
		self:     self,
		rt:       rt,
		clock:    clock.New(self),
		dir:      dir,
		retry:    clock.DefaultRetryPolicy,
		sched:    sched,
		inflight: make(map[ident.TxId]*attempt),
	}
}

// WithRetryPolicy overrides the default retry policy.
func (m *Manager) WithRetryPolicy(p clock.RetryPolicy) *Manager {
	m.retry = p
	return m
}

// WithMetrics attaches a Prometheus collector; nil (the default) disables
// instrumentation entirely.
func (m *Manager) WithMetrics(mx *metrics.Metrics) *Manager {
	m.metrics = mx
	return m
}

// WithAudit attaches a durable outcome log; nil (the default) skips
// auditing entirely.
func (m *Manager) WithAudit(log audit.Log) *Manager {
	m.audit = log
	return m
}

// WithEmitter attaches an observability sink; nil (the default) drops
// events rather than emitting them.
func (m *Manager) WithEmitter(e emit.Emitter) *Manager {
	m.emitter = e
	return m
}

// Directory returns this manager's directory replica, for upgrade Programs
// that need to claim, rebind, or tombstone a name as part of their Step
// (via Ctx.Router(), which hands back the *router.Context needed to call
// Directory.Create/Update/Delete).
func (m *Manager) Directory() *directory.Directory {
	return m.dir
}

// Do runs a Low-priority action. program is called once per attempt; on is
// invoked exactly once with the final outcome.
func (m *Manager) Do(program ProgramFactory, on ResultFunc) {
	m.start(program, ident.Low, on)
}

// Upgrade runs a High-priority schema change, which always wins Wound-Wait
// against concurrently running actions.
func (m *Manager) Upgrade(program ProgramFactory, on ResultFunc) {
	m.start(program, ident.High, on)
}

func (m *Manager) start(program ProgramFactory, priority ident.Priority, on ResultFunc) {
	id := m.clock.Next(priority)
	m.inflight[id] = &attempt{program: program, priority: priority, onResult: on}
	m.spawn(id)
}

// spawn mints the Transaction's real identity from the Address the router
// just reserved for it, not from m.self: nodes send LockGranted, ReadResult,
// Preempt, and Abort to TxId.Originator, and the Transaction actor — not
// the Manager — is what's listening at that address. id arrives with a
// placeholder Originator (whatever m.clock stamped it with); it is
// corrected to the Transaction's own spawned Address before the Program
// ever runs, and m.inflight is keyed on the corrected id from that point
// on so TransactionFinished can find it again.
func (m *Manager) spawn(id ident.TxId) {
	at := m.inflight[id]
	delete(m.inflight, id)
	m.rt.Spawn(func(ctx *router.Context) router.Actor {
		id.Originator = ctx.Self()
		m.inflight[id] = at
		t := txn.New(id, at.program(), m)
		t.Start(ctx)
		return t
	})
}

// TransactionFinished implements txn.Observer.
func (m *Manager) TransactionFinished(ctx *router.Context, id ident.TxId, outcome txn.Outcome) {
	at, ok := m.inflight[id]
	if !ok {
		return
	}
	outcomeName := "committed"
	if outcome != txn.Committed {
		outcomeName = "aborted"
	}
	m.metrics.IncTransaction(outcomeName)
	if m.emitter != nil {
		m.emitter.Emit(emit.Event{TxId: id.String(), Address: m.self.String(), Msg: outcomeName})
	}
	if m.audit != nil {
		_ = m.audit.Append(context.Background(), audit.Entry{
			TxId:      id.String(),
			Address:   m.self.String(),
			Outcome:   outcomeName,
			Timestamp: time.Now(),
		})
	}

	if outcome == txn.Committed || at.priority == ident.High {
		// Upgrades are not retried automatically: an aborted upgrade (a
		// version mismatch, an unreachable node, or Wound-Wait preemption
		// by an older upgrade) is reported to the caller directly, since
		// retrying blindly could spin on a plan that's already stale.
		delete(m.inflight, id)
		if at.onResult != nil {
			at.onResult(outcome)
		}
		return
	}

	at.attempts++
	if at.attempts >= m.retry.MaxAttempts {
		delete(m.inflight, id)
		if at.onResult != nil {
			at.onResult(txn.Aborted)
		}
		return
	}

	m.metrics.IncRetry()
	if m.emitter != nil {
		m.emitter.Emit(emit.Event{TxId: id.String(), Address: m.self.String(), Msg: "retry", Meta: map[string]any{"attempt": at.attempts}})
	}
	delay := clock.Backoff(at.attempts-1, m.retry, m.jitter)
	delete(m.inflight, id)
	m.sched.After(delay, func() {
		newID := m.clock.Next(at.priority)
		m.inflight[newID] = at
		m.spawn(newID)
	})
}
