// File: reactor/group.go
// Package reactor implements the loop group and its lifecycle observers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Group hosts a fixed set of loops, one goroutine each, and notifies
// registered observers when loops start and stop. Observers added after
// startup are replayed the already-started loops so late registration
// behaves like early registration.

package reactor

import (
	"runtime"
	"sync"
)

// Observer is notified of loop lifecycle transitions. Callbacks run on the
// group's control goroutine, not on the loop itself; observers post to the
// loop for loop-pinned initialization.
type Observer interface {
	LoopStarted(*Loop)
	LoopStopped(*Loop)
}

// Group is a fixed pool of running loops.
type Group struct {
	mu        sync.RWMutex
	loops     []*Loop
	observers []Observer
	started   bool
	stopped   bool
	nextIdx   int
}

// NewGroup creates a group of n loops. n <= 0 selects runtime.NumCPU().
func NewGroup(n, queueSize int) *Group {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	loops := make([]*Loop, n)
	for i := range loops {
		loops[i] = NewLoop(queueSize)
	}
	return &Group{loops: loops}
}

// Start launches one goroutine per loop and notifies observers. Subsequent
// calls have no effect.
func (g *Group) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	loops := append([]*Loop(nil), g.loops...)
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	for _, l := range loops {
		go l.Run()
		for _, o := range observers {
			o.LoopStarted(l)
		}
	}
}

// Stop notifies observers of every live loop, then stops the loops.
// Idempotent.
func (g *Group) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	loops := append([]*Loop(nil), g.loops...)
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	for _, l := range loops {
		for _, o := range observers {
			o.LoopStopped(l)
		}
	}
	for _, l := range loops {
		l.Stop()
	}
}

// AddObserver registers o and replays LoopStarted for loops that are
// already running.
func (g *Group) AddObserver(o Observer) {
	g.mu.Lock()
	g.observers = append(g.observers, o)
	replay := g.started && !g.stopped
	loops := append([]*Loop(nil), g.loops...)
	g.mu.Unlock()

	if replay {
		for _, l := range loops {
			o.LoopStarted(l)
		}
	}
}

// RemoveObserver unregisters o.
func (g *Group) RemoveObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, cur := range g.observers {
		if cur == o {
			g.observers = append(g.observers[:i], g.observers[i+1:]...)
			return
		}
	}
}

// Loops returns the group's loops.
func (g *Group) Loops() []*Loop {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Loop(nil), g.loops...)
}

// Next returns loops in round-robin order, for spreading synthetic work.
func (g *Group) Next() *Loop {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.loops[g.nextIdx%len(g.loops)]
	g.nextIdx++
	return l
}

// Size returns the number of loops.
func (g *Group) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.loops)
}
