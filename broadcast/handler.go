// File: broadcast/handler.go
// Package broadcast implements the fan-out handler.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler is the terminal inbound handler of an upstream pipeline. It
// delivers upstream values to every subscriber in subscription order and
// guarantees exactly one terminal callback per subscriber, after all prior
// values. All state is pinned to the pool's loop.

package broadcast

import (
	"github.com/momentics/hioload-pipeline/pipeline"
)

// Subscriber receives one upstream's values and exactly one terminal
// callback, OnCompleted or OnError.
type Subscriber[T any] interface {
	OnNext(T)
	OnError(error)
	OnCompleted()
}

type subscription[T any] struct {
	id  uint64
	sub Subscriber[T]
}

// Handler fans one upstream pipeline out to its subscribers.
type Handler[T any] struct {
	pool     *Pool[T]
	key      string
	pipeline *pipeline.Pipeline

	subscribers []subscription[T]
	nextSubID   uint64
	terminated  bool
}

var _ pipeline.Handler = (*Handler[any])(nil)

// NewHandler creates an unattached fan-out handler. The pool attaches it
// when its entry reaches Ready.
func NewHandler[T any]() *Handler[T] {
	return &Handler[T]{}
}

// attach binds the handler to its pool entry. Called by the pool on the
// owning loop.
func (h *Handler[T]) attach(pool *Pool[T], key string, p *pipeline.Pipeline) {
	h.pool = pool
	h.key = key
	h.pipeline = p
}

// detach cuts the pool reference so no eviction is requested twice.
func (h *Handler[T]) detach() {
	h.pool = nil
}

// Key returns the routing key, empty before attachment.
func (h *Handler[T]) Key() string {
	return h.key
}

// Subscribe adds sub and returns its subscription id. Subscribing to a
// handler whose upstream already terminated is legal: the subscriber sees
// an immediate OnCompleted.
func (h *Handler[T]) Subscribe(sub Subscriber[T]) uint64 {
	h.nextSubID++
	id := h.nextSubID
	if h.terminated {
		sub.OnCompleted()
		return id
	}
	h.subscribers = append(h.subscribers, subscription[T]{id: id, sub: sub})
	return id
}

// Unsubscribe removes the subscription. When the last subscriber leaves a
// live broadcast, the handler evicts its pool entry and tears the upstream
// pipeline down.
func (h *Handler[T]) Unsubscribe(id uint64) {
	for i, s := range h.subscribers {
		if s.id == id {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			break
		}
	}
	if len(h.subscribers) == 0 && !h.terminated && h.pool != nil {
		h.closeBroadcast()
	}
}

// SubscriberCount reports the current number of subscribers.
func (h *Handler[T]) SubscriberCount() int {
	return len(h.subscribers)
}

// closeBroadcast evicts the entry and requests upstream teardown. Runs on
// the owning loop.
func (h *Handler[T]) closeBroadcast() {
	h.terminated = true
	if h.pool != nil {
		h.pool.deleteBroadcast(h.key)
		h.pool = nil
	}
	if h.pipeline != nil {
		_ = h.pipeline.Close()
		h.pipeline.RequestDeletion()
	}
}

// TransportActive terminates activation at the fan-out point.
func (h *Handler[T]) TransportActive(ctx *pipeline.Context) {}

// Read forwards an upstream value to every current subscriber. Values of
// an unexpected type are dropped.
func (h *Handler[T]) Read(ctx *pipeline.Context, msg any) {
	v, ok := msg.(T)
	if !ok {
		return
	}
	for _, s := range append([]subscription[T](nil), h.subscribers...) {
		s.sub.OnNext(v)
	}
}

// ReadEOF detaches from the pool so no new subscriber joins, completes
// every subscriber, and requests pipeline deletion.
func (h *Handler[T]) ReadEOF(ctx *pipeline.Context) {
	if h.terminated {
		return
	}
	h.terminated = true
	if h.pool != nil {
		h.pool.deleteBroadcast(h.key)
		h.pool = nil
	}
	subs := h.takeSubscribers()
	for _, s := range subs {
		s.sub.OnCompleted()
	}
	ctx.DeletePipeline()
}

// ReadException mirrors ReadEOF with OnError.
func (h *Handler[T]) ReadException(ctx *pipeline.Context, err error) {
	if h.terminated {
		return
	}
	h.terminated = true
	if h.pool != nil {
		h.pool.deleteBroadcast(h.key)
		h.pool = nil
	}
	subs := h.takeSubscribers()
	for _, s := range subs {
		s.sub.OnError(err)
	}
	ctx.DeletePipeline()
}

func (h *Handler[T]) takeSubscribers() []subscription[T] {
	subs := h.subscribers
	h.subscribers = nil
	return subs
}
