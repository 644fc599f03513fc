// File: broadcast/pool.go
// Package broadcast implements the per-loop connect-or-reuse pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool state machine per key:
//
//	Absent --getHandler miss--> Connecting --connect ok, routing ok--> Ready
//	Connecting --connect fail / routing fail--> fail all waiters, Absent
//	Ready --EOF / error / last subscriber left / orphan sweep--> Absent
//
// All mutations run on the owning loop, so waiter-list appends and state
// transitions are serialized without locks. The pool never retries; retry
// is the caller's policy.

package broadcast

import (
	"fmt"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-pipeline/api"
	itransport "github.com/momentics/hioload-pipeline/internal/transport"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
)

// PipelineFactory builds upstream pipelines for broadcast connections.
type PipelineFactory[T any] interface {
	// NewBroadcastPipeline builds a pipeline ending in a *Handler[T].
	// The pool attaches the transport and fires TransportActive.
	NewBroadcastPipeline(loop *reactor.Loop, transport api.Transport) (*pipeline.Pipeline, error)

	// SetRoutingData installs the routing key on a freshly built pipeline.
	// Fallible; a failure aborts the broadcast before it reaches Ready.
	SetRoutingData(p *pipeline.Pipeline, key string) error

	// BroadcastHandler returns the fan-out handler of a successfully
	// built pipeline. Infallible after NewBroadcastPipeline succeeded.
	BroadcastHandler(p *pipeline.Pipeline) *Handler[T]
}

// entry is one key's connect-or-reuse record. handler is nil while
// Connecting and set exactly when the entry reaches Ready.
type entry[T any] struct {
	pool     *Pool[T]
	key      string
	handler  *Handler[T]
	pipeline *pipeline.Pipeline
	waiters  *queue.Queue // of *api.Promise[*Handler[T]], FIFO
}

var _ pipeline.Manager = (*entry[any])(nil)

// DeletePipeline implements the upstream pipeline's manager contract: the
// entry owns the pipeline, eviction funnels through the pool, and the
// close runs at the end of the current tick.
func (e *entry[T]) DeletePipeline(p *pipeline.Pipeline) {
	if p != e.pipeline {
		return
	}
	pool := e.pool
	if cur, ok := pool.broadcasts[e.key]; ok && cur == e {
		pool.evict(e.key)
	}
	pool.loop.Defer(func() {
		_ = p.Close()
	})
}

// Pool maps routing keys to broadcast entries on one loop. Use one Pool
// per (factory instance x loop); ObservingPipelineFactory maintains that
// partitioning.
type Pool[T any] struct {
	loop       *reactor.Loop
	serverPool ServerPool
	factory    PipelineFactory[T]
	stats      api.StatsSink

	broadcasts map[string]*entry[T]
}

// NewPool creates a pool pinned to loop.
func NewPool[T any](loop *reactor.Loop, serverPool ServerPool, factory PipelineFactory[T], stats api.StatsSink) *Pool[T] {
	if stats == nil {
		stats = api.NopStats{}
	}
	return &Pool[T]{
		loop:       loop,
		serverPool: serverPool,
		factory:    factory,
		stats:      stats,
		broadcasts: make(map[string]*entry[T]),
	}
}

// Loop returns the owning loop.
func (bp *Pool[T]) Loop() *reactor.Loop {
	return bp.loop
}

// IsBroadcasting reports whether key has a Connecting or Ready entry.
// Must be called on the owning loop.
func (bp *Pool[T]) IsBroadcasting(key string) bool {
	_, ok := bp.broadcasts[key]
	return ok
}

// GetHandler resolves key to its fan-out handler. The returned future
// resolves exactly once, with the handler or an error, on this loop:
// synchronously for Ready entries and synchronous ServerPool failures,
// otherwise when the connect attempt finishes. Must be called on the
// owning loop.
func (bp *Pool[T]) GetHandler(key string) *api.Future[*Handler[T]] {
	promise := api.NewPromise[*Handler[T]]()

	if e, ok := bp.broadcasts[key]; ok {
		if e.handler != nil {
			promise.Complete(e.handler)
		} else {
			e.waiters.Add(promise)
		}
		return promise.Future()
	}

	e := &entry[T]{pool: bp, key: key, waiters: queue.New()}
	e.waiters.Add(promise)
	bp.broadcasts[key] = e

	// A synchronous ServerPool failure resolves this future inline,
	// removing the entry before GetHandler returns.
	bp.serverPool.Connect(bp.loop, key).Then(func(tr api.Transport, err error) {
		bp.onConnect(e, tr, err)
	})
	return promise.Future()
}

// onConnect finishes the Connecting state. Runs on the owning loop.
func (bp *Pool[T]) onConnect(e *entry[T], tr api.Transport, err error) {
	if err != nil {
		bp.abort(e, api.WrapAcceptorError(api.CodeConnectFailed, err))
		return
	}

	p, buildErr := bp.factory.NewBroadcastPipeline(bp.loop, tr)
	if buildErr != nil {
		_ = tr.Close()
		bp.abort(e, api.WrapAcceptorError(api.CodeInternal, buildErr))
		return
	}
	if routeErr := bp.factory.SetRoutingData(p, e.key); routeErr != nil {
		_ = tr.Close()
		bp.abort(e, api.WrapAcceptorError(api.CodeRoutingDataFailed, routeErr))
		return
	}

	handler := bp.factory.BroadcastHandler(p)
	if handler == nil {
		_ = tr.Close()
		bp.abort(e, api.NewAcceptorError(api.CodeInternal, fmt.Sprintf("no broadcast handler on pipeline for %q", e.key)))
		return
	}

	p.SetTransport(tr)
	if info := tr.Info(); info != nil {
		p.SetTransportInfo(info)
	}
	p.SetManager(e)
	handler.attach(bp, e.key, p)

	e.pipeline = p
	e.handler = handler
	bp.stats.BroadcastCreated()

	p.TransportActive()

	// Fulfil waiters in FIFO registration order. Callbacks may subscribe
	// or even terminate the broadcast; the sweep below reconciles.
	for e.waiters.Length() > 0 {
		w := e.waiters.Remove().(*api.Promise[*Handler[T]])
		w.Complete(handler)
	}

	// Post-fulfilment sweep: every caller abandoned the broadcast without
	// subscribing, so the entry would leak. Evict and tear down.
	if cur, ok := bp.broadcasts[e.key]; ok && cur == e && handler.SubscriberCount() == 0 {
		handler.detach()
		bp.evict(e.key)
		_ = p.Close()
		bp.loop.Defer(func() {
			p.RequestDeletion()
		})
		return
	}

	if tc, ok := tr.(*itransport.Conn); ok {
		go tc.ServeRead(p)
	}
}

// abort fails every waiter in FIFO order with err and removes the entry.
// The entry is gone before any waiter callback observes the failure.
func (bp *Pool[T]) abort(e *entry[T], err error) {
	if cur, ok := bp.broadcasts[e.key]; ok && cur == e {
		delete(bp.broadcasts, e.key)
	}
	for e.waiters.Length() > 0 {
		w := e.waiters.Remove().(*api.Promise[*Handler[T]])
		w.Fail(err)
	}
}

// deleteBroadcast evicts key on behalf of its handler.
func (bp *Pool[T]) deleteBroadcast(key string) {
	bp.evict(key)
}

func (bp *Pool[T]) evict(key string) {
	if _, ok := bp.broadcasts[key]; !ok {
		return
	}
	delete(bp.broadcasts, key)
	bp.stats.BroadcastEvicted()
}

// Size reports the number of live entries. Owning loop only.
func (bp *Pool[T]) Size() int {
	return len(bp.broadcasts)
}
