// Package router implements the single-threaded, cooperative message
// scheduler that hosts every actor in the fabric: reactive nodes,
// transactions, and directory replicas. It is deliberately the
// simplest possible actor runtime — one goroutine, one FIFO queue, direct
// method dispatch — because the concurrency this system cares about is the
// interleaving of logical transactions at message boundaries, not
// parallelism inside the scheduler itself. A Router gives up concurrent
// delivery entirely in exchange for strict FIFO ordering between any single
// sender and receiver.
package router

import (
	"container/list"
	"sync"

	"github.com/invpt/hig-proto/ident"
)

// Address re-exports the identifier type actors are addressed by, so
// callers of this package rarely need to import ident directly.
type Address = ident.Address

// Message is any payload an actor can receive. The fabric does not use a
// closed message algebra at this layer — concrete message shapes live in
// the wire package — so Router stays agnostic and simply ferries opaque
// values between actors in delivery order.
type Message any

// Actor is anything a Router can host. Handle is invoked once per delivered
// message, runs to completion without suspending, and may call methods on
// ctx to send further messages, spawn children, or retire itself.
type Actor interface {
	Handle(ctx *Context, from Address, msg Message)
}

// Unreachable is synthesized by the router itself when a message is
// addressed to an actor that no longer exists. It is never sent by user
// code directly, though actors commonly construct one defensively when
// relaying a message they know targets a retired peer.
type Unreachable struct {
	// Inner is the message that could not be delivered.
	Inner Message
}

type envelope struct {
	from Address
	to   Address
	msg  Message
}

// Router owns the global FIFO message queue and the actor registry. It is
// not safe for concurrent use: exactly one goroutine should call Run (or
// the Step/RunUntilIdle variants) at a time. Address allocation and the
// queue are the only process-wide mutable state in the system. The sole
// exception is Defer, which other goroutines (a retry timer, for instance)
// may call freely; everything it schedules runs on the pumping goroutine.
type Router struct {
	actors  map[Address]Actor
	nextIdx uint64
	queue   *list.List // of envelope

	extMu    sync.Mutex
	external []func()
}

// New creates an empty Router with no actors and an empty queue.
func New() *Router {
	return &Router{
		actors: make(map[Address]Actor),
		queue:  list.New(),
	}
}

// Context is lent to an actor for the duration of one Handle call (or one
// Spawn factory call). It is the only way an actor can affect router state:
// enqueue a message, spawn a child, or retire.
type Context struct {
	self Address
	rt   *Router
}

// Self returns the address the current handler is running as.
func (c *Context) Self() Address { return c.self }

// Send enqueues msg at the tail of the global queue, addressed to to, with
// from recorded as c.Self(). Between any single sender/receiver pair,
// repeated Sends are delivered in the order they were issued because the
// queue is strictly FIFO (modulo the head-insertion Unreachable rule below).
func (c *Context) Send(to Address, msg Message) {
	c.rt.enqueue(envelope{from: c.self, to: to, msg: msg})
}

// Spawn reserves a fresh Address, builds a Context bound to it, and invokes
// factory so the new actor can enqueue startup messages or spawn further
// children before it is actually reachable — only once factory returns is
// the actor installed and eligible to receive messages. This ordering lets
// an actor's own constructor talk to itself or its children without any
// message being lost to an "unreachable" race.
func (c *Context) Spawn(factory func(ctx *Context) Actor) Address {
	return c.rt.spawn(factory)
}

// Retire removes the currently-handling actor from the registry. Any
// message already in flight to it will, once dequeued, bounce back to its
// sender as Unreachable.
func (c *Context) Retire() {
	delete(c.rt.actors, c.self)
}

func (r *Router) spawn(factory func(ctx *Context) Actor) Address {
	addr := ident.NewAddress(r.nextIdx)
	r.nextIdx++

	ctx := &Context{self: addr, rt: r}
	actor := factory(ctx)
	r.actors[addr] = actor
	return addr
}

// Spawn is the top-level entry point for creating actors that have no
// parent context yet (e.g. the first manager or the first reactive node in
// a test). Actors created mid-handler should use Context.Spawn instead so
// their startup messages interleave correctly with the rest of the run.
func (r *Router) Spawn(factory func(ctx *Context) Actor) Address {
	return r.spawn(factory)
}

// Send injects a message into the queue from outside any actor, e.g. a
// client driving the manager's Do/Upgrade entry points.
func (r *Router) Send(from, to Address, msg Message) {
	r.enqueue(envelope{from: from, to: to, msg: msg})
}

func (r *Router) enqueue(env envelope) {
	r.queue.PushBack(env)
}

func (r *Router) pushFront(env envelope) {
	r.queue.PushFront(env)
}

// Pending reports the number of messages currently queued.
func (r *Router) Pending() int { return r.queue.Len() }

// Defer schedules fn to run on whichever goroutine next calls Step, Run, or
// RunUntilIdle. It is the only router operation safe to call from outside
// that pumping goroutine — a RealScheduler retry timer, for example, fires
// on its own goroutine and must route its work through Defer rather than
// touching a Manager or spawning an actor directly, since everything else
// on Router assumes single-threaded access.
func (r *Router) Defer(fn func()) {
	r.extMu.Lock()
	r.external = append(r.external, fn)
	r.extMu.Unlock()
}

func (r *Router) drainExternal() {
	r.extMu.Lock()
	pending := r.external
	r.external = nil
	r.extMu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Step dequeues and delivers exactly one message, reporting whether one was
// available. It is the primitive Run and RunUntilIdle are built from, and
// is exposed directly for tests that need to interleave router progress
// with external assertions, such as checking a preempt is observed before
// the preempted side responds.
func (r *Router) Step() bool {
	r.drainExternal()
	front := r.queue.Front()
	if front == nil {
		return false
	}
	r.queue.Remove(front)
	env := front.Value.(envelope)

	actor, ok := r.actors[env.to]
	if !ok {
		if _, isUnreachable := env.msg.(Unreachable); isUnreachable {
			// An Unreachable bounced off a second retired peer: drop it
			// rather than bouncing forever. Two peers that retire while
			// each holds a message addressed to the other would otherwise
			// ping-pong Unreachable envelopes back and forth indefinitely.
			return true
		}
		r.pushFront(envelope{
			from: env.to,
			to:   env.from,
			msg:  Unreachable{Inner: env.msg},
		})
		return true
	}

	ctx := &Context{self: env.to, rt: r}
	actor.Handle(ctx, env.from, env.msg)
	return true
}

// Run drains the queue completely, delivering messages until none remain.
// Because handlers may themselves enqueue further messages, Run only
// terminates once a fixed point of "nothing left to do" is reached; a
// system with a genuine infinite message cycle would never return, which is
// why RunUntilIdle exists for tests that want a hard step budget.
func (r *Router) Run() {
	for r.Step() {
	}
}

// RunUntilIdle runs the router for at most maxSteps deliveries, returning
// the number of messages actually delivered and whether the queue drained
// (true) or the step budget was exhausted first (false), guarding tests
// against an accidental infinite retry loop.
func RunUntilIdle(r *Router, maxSteps int) (steps int, drained bool) {
	for steps = 0; steps < maxSteps; steps++ {
		if !r.Step() {
			return steps, true
		}
	}
	return steps, false
}
