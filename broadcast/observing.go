// File: broadcast/observing.go
// Package broadcast implements the subscriber side of a broadcast: the
// handler placed on an accepted downstream pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ObservingPipelineFactory keeps one Pool per loop, so two factory
// instances on the same loop, or the same instance on two loops, never
// share an entry.

package broadcast

import (
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
)

// Encoder turns an upstream value into bytes for a downstream transport.
type Encoder[T any] func(T) []byte

// ObservingHandler subscribes its downstream connection to the broadcast
// selected by the routing key and relays upstream values to the
// connection's transport.
type ObservingHandler[T any] struct {
	key     string
	factory *ObservingPipelineFactory[T]
	encode  Encoder[T]

	ctx     *pipeline.Context
	handler *Handler[T]
	subID   uint64
	closed  bool
}

var _ pipeline.Handler = (*ObservingHandler[any])(nil)
var _ Subscriber[any] = (*ObservingHandler[any])(nil)

// NewObservingHandler creates a handler for one downstream connection.
func NewObservingHandler[T any](key string, factory *ObservingPipelineFactory[T], encode Encoder[T]) *ObservingHandler[T] {
	return &ObservingHandler[T]{key: key, factory: factory, encode: encode}
}

// TransportActive asks the loop's pool for the broadcast handler and
// subscribes. A connect failure closes the downstream connection.
func (o *ObservingHandler[T]) TransportActive(ctx *pipeline.Context) {
	o.ctx = ctx
	pool := o.factory.BroadcastPool(ctx.Pipeline().Loop())
	pool.GetHandler(o.key).Then(func(h *Handler[T], err error) {
		if err != nil || o.closed {
			o.closeHandler()
			return
		}
		o.handler = h
		o.subID = h.Subscribe(o)
	})
}

// Read terminates downstream input; the observing side is write-only.
func (o *ObservingHandler[T]) Read(ctx *pipeline.Context, msg any) {}

// ReadEOF unsubscribes and tears the downstream pipeline down.
func (o *ObservingHandler[T]) ReadEOF(ctx *pipeline.Context) {
	o.closeHandler()
}

// ReadException mirrors ReadEOF.
func (o *ObservingHandler[T]) ReadException(ctx *pipeline.Context, err error) {
	o.closeHandler()
}

// OnNext writes the upstream value to the downstream transport.
func (o *ObservingHandler[T]) OnNext(v T) {
	if o.closed || o.ctx == nil {
		return
	}
	tr := o.ctx.Transport()
	if tr == nil {
		return
	}
	if _, err := tr.Write(o.encode(v)); err != nil {
		o.closeHandler()
	}
}

// OnError closes the downstream connection after an upstream failure.
func (o *ObservingHandler[T]) OnError(err error) {
	o.handler = nil
	o.closeHandler()
}

// OnCompleted closes the downstream connection after upstream EOF.
func (o *ObservingHandler[T]) OnCompleted() {
	o.handler = nil
	o.closeHandler()
}

// closeHandler unsubscribes from the broadcast and deletes the downstream
// pipeline. Idempotent.
func (o *ObservingHandler[T]) closeHandler() {
	if o.closed {
		return
	}
	o.closed = true
	if o.handler != nil {
		o.handler.Unsubscribe(o.subID)
		o.handler = nil
	}
	if o.ctx != nil {
		_ = o.ctx.Pipeline().Close()
		o.ctx.DeletePipeline()
	}
}

// ObservingPipelineFactory builds downstream pipelines that subscribe to
// broadcasts, keeping one Pool per loop.
type ObservingPipelineFactory[T any] struct {
	serverPool ServerPool
	factory    PipelineFactory[T]
	encode     Encoder[T]
	stats      api.StatsSink

	mu    sync.Mutex
	pools map[*reactor.Loop]*Pool[T]
}

// NewObservingPipelineFactory wires the collaborators shared by every
// per-loop pool.
func NewObservingPipelineFactory[T any](serverPool ServerPool, factory PipelineFactory[T], encode Encoder[T], stats api.StatsSink) *ObservingPipelineFactory[T] {
	return &ObservingPipelineFactory[T]{
		serverPool: serverPool,
		factory:    factory,
		encode:     encode,
		stats:      stats,
		pools:      make(map[*reactor.Loop]*Pool[T]),
	}
}

// BroadcastPool returns this factory's pool for loop, creating it on
// first use. Only the map access is locked; the pool itself is loop-pinned.
func (f *ObservingPipelineFactory[T]) BroadcastPool(loop *reactor.Loop) *Pool[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pools[loop]; ok {
		return p
	}
	p := NewPool[T](loop, f.serverPool, f.factory, f.stats)
	f.pools[loop] = p
	return p
}

// NewPipeline builds a downstream pipeline whose terminal handler
// subscribes to the broadcast for key.
func (f *ObservingPipelineFactory[T]) NewPipeline(loop *reactor.Loop, transport api.Transport, key string) *pipeline.Pipeline {
	p := pipeline.New(loop)
	p.SetTransport(transport)
	p.AddBack(NewObservingHandler[T](key, f, f.encode))
	return p
}
