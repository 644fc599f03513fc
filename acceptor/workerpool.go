// File: acceptor/workerpool.go
// Package acceptor implements the per-loop worker registry.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkerPool observes loop lifecycle on a reactor.Group and keeps exactly
// one Acceptor per live loop. The worker map is read from arbitrary
// goroutines under a shared lock; writes happen only inside lifecycle
// callbacks. Accepted sockets are dispatched round-robin onto the workers'
// loops, so every connection is pinned from its first event.

package acceptor

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-pipeline/api"
	itransport "github.com/momentics/hioload-pipeline/internal/transport"
	"github.com/momentics/hioload-pipeline/reactor"
)

// AcceptDecorator finishes transport negotiation on a freshly accepted
// socket and reports the negotiated result. The handshake itself is
// outside the core; only its outcome flows through.
type AcceptDecorator func(net.Conn) (net.Conn, api.SecureTransportKind, string, error)

// WorkerPool mirrors the bound listener set across one Acceptor per loop.
type WorkerPool struct {
	mu      sync.RWMutex
	workers map[*reactor.Loop]*Acceptor
	order   []*reactor.Loop
	rr      int

	factory   Factory
	decorator AcceptDecorator
	stats     api.StatsSink

	listeners []*itransport.Listener
	packets   []net.PacketConn
	closed    bool
}

var _ reactor.Observer = (*WorkerPool)(nil)

// NewWorkerPool creates a pool creating workers through factory. decorator
// may be nil for plaintext accepts.
func NewWorkerPool(factory Factory, decorator AcceptDecorator, stats api.StatsSink) *WorkerPool {
	if stats == nil {
		stats = api.NopStats{}
	}
	return &WorkerPool{
		workers:   make(map[*reactor.Loop]*Acceptor),
		factory:   factory,
		decorator: decorator,
		stats:     stats,
	}
}

// LoopStarted creates this loop's Acceptor and mirrors the current
// listener set onto it.
func (wp *WorkerPool) LoopStarted(loop *reactor.Loop) {
	a, err := wp.factory.NewAcceptor(loop)
	if err != nil {
		log.Printf("[workerpool] acceptor create failed: %v", err)
		return
	}

	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.workers[loop] = a
	wp.order = append(wp.order, loop)
	ids := make([]string, 0, len(wp.listeners))
	for _, ln := range wp.listeners {
		ids = append(ids, ln.ID)
	}
	wp.mu.Unlock()

	_ = loop.Post(func() {
		for _, id := range ids {
			a.AddListenerID(id)
		}
	})
}

// LoopStopped removes the loop's Acceptor and drops its connections.
func (wp *WorkerPool) LoopStopped(loop *reactor.Loop) {
	wp.mu.Lock()
	a, ok := wp.workers[loop]
	if ok {
		delete(wp.workers, loop)
		for i, l := range wp.order {
			if l == loop {
				wp.order = append(wp.order[:i], wp.order[i+1:]...)
				break
			}
		}
	}
	wp.mu.Unlock()

	if ok {
		_ = loop.Post(a.DropAllConnections)
	}
}

// ForEachWorker runs fn for every live worker under the shared read lock.
func (wp *WorkerPool) ForEachWorker(fn func(*Acceptor)) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	for _, loop := range wp.order {
		fn(wp.workers[loop])
	}
}

// WorkerCount returns the number of live workers.
func (wp *WorkerPool) WorkerCount() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return len(wp.workers)
}

// WorkerFor returns the Acceptor registered at loop, nil if none.
func (wp *WorkerPool) WorkerFor(loop *reactor.Loop) *Acceptor {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.workers[loop]
}

// AddListener registers a bound stream listener, mirrors its id to every
// worker, and starts its accept-dispatch goroutine.
func (wp *WorkerPool) AddListener(ln *itransport.Listener) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		ln.Close()
		return
	}
	wp.listeners = append(wp.listeners, ln)
	workers := wp.snapshotLocked()
	wp.mu.Unlock()

	for _, a := range workers {
		a := a
		_ = a.Loop().Post(func() { a.AddListenerID(ln.ID) })
	}
	go wp.acceptLoop(ln)
}

// AddPacketListener registers a bound datagram socket and starts its read
// goroutine. Payloads are synthesized into Datagram events.
func (wp *WorkerPool) AddPacketListener(pc net.PacketConn, id string) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		pc.Close()
		return
	}
	wp.packets = append(wp.packets, pc)
	wp.mu.Unlock()

	go wp.packetLoop(pc, id)
}

// Listeners returns the registered stream listeners.
func (wp *WorkerPool) Listeners() []*itransport.Listener {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return append([]*itransport.Listener(nil), wp.listeners...)
}

// StopListeners closes every listener and datagram socket, stopping their
// dispatch goroutines. Idempotent.
func (wp *WorkerPool) StopListeners() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	listeners := wp.listeners
	packets := wp.packets
	wp.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, pc := range packets {
		pc.Close()
	}
}

// Drain runs the shutdown contract across all workers: notify pending
// shutdown and close-when-idle first, then forcefully drop whatever is
// left after timeout.
func (wp *WorkerPool) Drain(timeout time.Duration, clk clock.Clock) {
	if clk == nil {
		clk = clock.New()
	}
	wp.ForEachWorker(func(a *Acceptor) {
		_ = a.Loop().Post(func() {
			a.NotifyPendingShutdown()
			a.CloseWhenIdle()
		})
	})
	if timeout > 0 {
		clk.Sleep(timeout)
	}
	wp.ForEachWorker(func(a *Acceptor) {
		_ = a.Loop().Post(a.DropAllConnections)
	})
}

// nextWorker picks a worker round-robin; nil when none are live.
func (wp *WorkerPool) nextWorker() *Acceptor {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if len(wp.order) == 0 {
		return nil
	}
	loop := wp.order[wp.rr%len(wp.order)]
	wp.rr++
	return wp.workers[loop]
}

func (wp *WorkerPool) snapshotLocked() []*Acceptor {
	out := make([]*Acceptor, 0, len(wp.order))
	for _, loop := range wp.order {
		out = append(out, wp.workers[loop])
	}
	return out
}

// acceptLoop dispatches accepted sockets until the listener closes.
func (wp *WorkerPool) acceptLoop(ln *itransport.Listener) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			wp.stats.AcceptError(err)
			if w := wp.nextWorker(); w != nil {
				w.Accept(api.AcceptError{Err: err})
			}
			continue
		}

		w := wp.nextWorker()
		if w == nil {
			raw.Close()
			continue
		}

		kind := api.SecureNone
		proto := ""
		if wp.decorator != nil {
			decorated, k, p, derr := wp.decorator(raw)
			if derr != nil {
				raw.Close()
				w.SSLConnectionError(derr)
				continue
			}
			raw, kind, proto = decorated, k, p
		}
		w.AcceptConn(raw, kind, proto)
	}
}

// packetLoop forwards datagrams until the socket closes.
func (wp *WorkerPool) packetLoop(pc net.PacketConn, id string) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		if w := wp.nextWorker(); w != nil {
			w.Accept(api.Datagram{Buf: msg, From: from, ListenerID: id})
		}
	}
}
