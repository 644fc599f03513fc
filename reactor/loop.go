// File: reactor/loop.go
// Package reactor implements the cooperative event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Loop serializes all work for the state pinned to it. Tasks arrive from
// any goroutine through a buffered channel; teardown work scheduled with
// Defer runs after the current batch so objects never free themselves in
// the middle of callback dispatch.
//
// A Loop is driven either by Run (production) or by explicit Tick calls
// (tests), never both at once.

package reactor

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-pipeline/api"
)

const defaultQueueSize = 1024

// Loop is a single-goroutine cooperative event loop.
type Loop struct {
	tasks    chan func()
	deferred *ringBuffer[func()]
	spill    []func() // overflow for deferred tasks, loop-goroutine only
	stopCh   chan struct{}
	running  int32
	stopped  int32
}

// NewLoop creates a loop with the given task queue capacity.
// Capacity <= 0 selects the default.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Loop{
		tasks:    make(chan func(), queueSize),
		deferred: newRingBuffer[func()](256),
		stopCh:   make(chan struct{}),
	}
}

// Post enqueues fn for execution on the loop. Safe from any goroutine.
// Returns ErrLoopStopped after Stop, ErrQueueFull when the queue is at
// capacity.
func (l *Loop) Post(fn func()) error {
	if atomic.LoadInt32(&l.stopped) == 1 {
		return api.ErrLoopStopped
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stopCh:
		return api.ErrLoopStopped
	default:
		return api.ErrQueueFull
	}
}

// Defer schedules fn to run at the end of the current tick. Must only be
// called from a task already running on the loop.
func (l *Loop) Defer(fn func()) {
	if !l.deferred.Enqueue(fn) {
		l.spill = append(l.spill, fn)
	}
}

// Tick drains the currently queued tasks, then the deferred queue. It is
// the externally visible scheduling point: one Tick corresponds to one
// reactor iteration. Returns the number of tasks executed.
func (l *Loop) Tick() int {
	n := 0
	for pending := len(l.tasks); pending > 0; pending-- {
		select {
		case task := <-l.tasks:
			l.runTask(task)
			n++
		default:
			pending = 0
		}
	}
	n += l.drainDeferred()
	return n
}

// Run processes tasks until Stop is called. Intended to be the body of the
// loop's dedicated goroutine.
func (l *Loop) Run() {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return
	}
	for {
		select {
		case task := <-l.tasks:
			l.runTask(task)
			// Drain whatever queued behind the task before the tick ends.
			for more := true; more; {
				select {
				case t := <-l.tasks:
					l.runTask(t)
				default:
					more = false
				}
			}
			l.drainDeferred()
		case <-l.stopCh:
			l.Tick()
			atomic.StoreInt32(&l.running, 2)
			return
		}
	}
}

// Stop terminates the loop after the current batch. Idempotent. Blocks
// until a Run goroutine (if any) has exited.
func (l *Loop) Stop() {
	if !atomic.CompareAndSwapInt32(&l.stopped, 0, 1) {
		return
	}
	close(l.stopCh)
	for atomic.LoadInt32(&l.running) == 1 {
		time.Sleep(time.Microsecond)
	}
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	return atomic.LoadInt32(&l.stopped) == 1
}

func (l *Loop) runTask(task func()) {
	defer func() { _ = recover() }()
	task()
}

func (l *Loop) drainDeferred() int {
	n := 0
	for {
		task, ok := l.deferred.Dequeue()
		if !ok {
			break
		}
		l.runTask(task)
		n++
	}
	for len(l.spill) > 0 {
		task := l.spill[0]
		l.spill = l.spill[:copy(l.spill, l.spill[1:])]
		l.runTask(task)
		n++
	}
	return n
}
