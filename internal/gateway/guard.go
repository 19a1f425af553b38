package gateway

import (
	"context"
	"sync"

	"starchat/internal/logging"
)

// =============================================================================
// INFERENCE GUARD
// =============================================================================
// One lane per conversation key. At most one task runs per lane; at most one
// more waits. A user-priority enqueue replaces a queued background task but
// never touches the running one. Tasks are executed on the caller's
// goroutine-independent lane worker; errors flow back through the returned
// channel.

// Priority orders competing enqueues for the same lane.
type Priority int

const (
	// PriorityBackground loses its queue slot to a user task.
	PriorityBackground Priority = iota
	// PriorityUser replaces a queued background task.
	PriorityUser
)

// Task is one unit of guarded work.
type Task func(ctx context.Context) error

// BusyNotifier is told when an enqueue found the lane occupied and the task
// was queued (or rejected) rather than started immediately.
type BusyNotifier interface {
	InferenceBusy(key string)
}

// Guard serializes inference per conversation.
type Guard struct {
	mu       sync.Mutex
	lanes    map[string]*lane
	notifier BusyNotifier
}

type queued struct {
	ctx      context.Context
	task     Task
	priority Priority
	done     chan error
}

type lane struct {
	running bool
	next    *queued
}

// NewGuard creates the guard. notifier may be nil.
func NewGuard(notifier BusyNotifier) *Guard {
	return &Guard{
		lanes:    make(map[string]*lane),
		notifier: notifier,
	}
}

// IsQueued reports whether the lane already has a waiting task. Callers use
// this to short-circuit a duplicate user request before paying for prompt
// assembly.
func (g *Guard) IsQueued(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.lanes[key]
	return l != nil && l.next != nil
}

// IsRunning reports whether the lane is currently executing a task.
func (g *Guard) IsRunning(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.lanes[key]
	return l != nil && l.running
}

// Enqueue submits a task for the lane and returns a channel that yields the
// task's error exactly once. Behavior when the lane is occupied:
//
//   - queue slot empty: the task waits and runs when the current one ends
//   - queued background task, new user task: the queued task is dropped
//     (its channel yields ErrPreempted)
//   - queued task of equal-or-higher priority: the new task is rejected
//     with ErrBusy
//
// The running task is never interrupted.
func (g *Guard) Enqueue(ctx context.Context, key string, p Priority, t Task) <-chan error {
	done := make(chan error, 1)
	entry := &queued{ctx: ctx, task: t, priority: p, done: done}

	g.mu.Lock()
	l := g.lanes[key]
	if l == nil {
		l = &lane{}
		g.lanes[key] = l
	}

	if !l.running {
		l.running = true
		g.mu.Unlock()
		go g.run(key, entry)
		return done
	}

	// Lane busy: fight for the single queue slot.
	switch {
	case l.next == nil:
		l.next = entry
	case p > l.next.priority:
		logging.GatewayDebug("guard: user task preempts queued background task key=%s", key)
		l.next.done <- ErrPreempted
		l.next = entry
	default:
		g.mu.Unlock()
		logging.GatewayDebug("guard: lane busy, task rejected key=%s priority=%d", key, p)
		if g.notifier != nil {
			g.notifier.InferenceBusy(key)
		}
		done <- ErrBusy
		return done
	}
	g.mu.Unlock()

	if g.notifier != nil {
		g.notifier.InferenceBusy(key)
	}
	return done
}

// run drains the lane. Each entry executes against its own enqueuer's
// context, never a predecessor's.
func (g *Guard) run(key string, entry *queued) {
	for entry != nil {
		err := g.execute(entry.ctx, entry.task)
		entry.done <- err

		g.mu.Lock()
		l := g.lanes[key]
		entry = l.next
		l.next = nil
		if entry == nil {
			l.running = false
			delete(g.lanes, key)
		}
		g.mu.Unlock()
	}
}

// execute runs the task, converting a panic into an error so a misbehaving
// handler cannot wedge the lane.
func (g *Guard) execute(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryGateway).Error("guard: task panic: %v", r)
			err = &PanicError{Value: r}
		}
	}()
	return t(ctx)
}
