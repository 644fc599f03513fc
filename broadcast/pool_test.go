// File: broadcast/pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Behavioral coverage of the connect-or-reuse state machine: coalescing,
// failure fan-out, orphan eviction, and per-(factory x loop) isolation.

package broadcast_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/broadcast"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
)

// mockServerPool resolves connects on the next loop tick, mirroring an
// asynchronous socket connect. Failure modes are switchable per test.
type mockServerPool struct {
	connects  int
	syncFail  bool
	asyncFail bool

	lastClosed *int
}

func (m *mockServerPool) Connect(loop *reactor.Loop, key string) *api.Future[api.Transport] {
	m.connects++
	p := api.NewPromise[api.Transport]()
	if m.syncFail {
		p.Fail(api.NewAcceptorError(api.CodeConnectFailed, fmt.Sprintf("resolution of %q refused", key)))
		return p.Future()
	}
	if m.asyncFail {
		_ = loop.Post(func() {
			p.Fail(api.NewAcceptorError(api.CodeConnectFailed, "upstream unreachable"))
		})
		return p.Future()
	}
	closes := 0
	m.lastClosed = &closes
	tr := &api.MockTransport{CloseFunc: func() error {
		closes++
		return nil
	}}
	_ = loop.Post(func() { p.Complete(tr) })
	return p.Future()
}

// mockPipelineFactory builds upstream pipelines ending in a fan-out
// handler and records SetRoutingData calls.
type mockPipelineFactory struct {
	routingCalls []string
	routingErr   error
	handlers     map[*pipeline.Pipeline]*broadcast.Handler[int]
	built        []*pipeline.Pipeline
}

func newMockPipelineFactory() *mockPipelineFactory {
	return &mockPipelineFactory{handlers: make(map[*pipeline.Pipeline]*broadcast.Handler[int])}
}

func (f *mockPipelineFactory) NewBroadcastPipeline(loop *reactor.Loop, tr api.Transport) (*pipeline.Pipeline, error) {
	p := pipeline.New(loop)
	h := broadcast.NewHandler[int]()
	p.AddBack(h)
	f.handlers[p] = h
	f.built = append(f.built, p)
	return p, nil
}

func (f *mockPipelineFactory) SetRoutingData(p *pipeline.Pipeline, key string) error {
	f.routingCalls = append(f.routingCalls, key)
	return f.routingErr
}

func (f *mockPipelineFactory) BroadcastHandler(p *pipeline.Pipeline) *broadcast.Handler[int] {
	return f.handlers[p]
}

// mockSubscriber records deliveries and terminal callbacks.
type mockSubscriber struct {
	next      []int
	errs      []error
	completed int
}

func (s *mockSubscriber) OnNext(v int)      { s.next = append(s.next, v) }
func (s *mockSubscriber) OnError(err error) { s.errs = append(s.errs, err) }
func (s *mockSubscriber) OnCompleted()      { s.completed++ }

func newTestPool(t *testing.T) (*reactor.Loop, *mockServerPool, *mockPipelineFactory, *broadcast.Pool[int]) {
	t.Helper()
	loop := reactor.NewLoop(64)
	sp := &mockServerPool{}
	factory := newMockPipelineFactory()
	return loop, sp, factory, broadcast.NewPool[int](loop, sp, factory, nil)
}

// TestBasicConnect mirrors the canonical first-connect flow: a miss
// connects, the entry reaches Ready, reuse is synchronous, EOF evicts.
func TestBasicConnect(t *testing.T) {
	loop, _, factory, pool := newTestPool(t)
	sub := &mockSubscriber{}

	if pool.IsBroadcasting("url1") {
		t.Fatal("Expected no broadcast before the first getHandler")
	}

	var h1 *broadcast.Handler[int]
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		if err != nil {
			t.Errorf("Unexpected getHandler error: %v", err)
			return
		}
		h1 = h
		h.Subscribe(sub)
	})
	if h1 != nil {
		t.Fatal("Expected the future pending before the connect tick")
	}

	loop.Tick()

	if len(factory.routingCalls) != 1 || factory.routingCalls[0] != "url1" {
		t.Errorf("Expected setRoutingData called once with url1, got %v", factory.routingCalls)
	}
	if h1 == nil {
		t.Fatal("Expected the handler after the connect tick")
	}
	if !pool.IsBroadcasting("url1") {
		t.Error("Expected isBroadcasting true for a Ready entry")
	}

	// Reuse resolves synchronously with the cached handler.
	var h2 *broadcast.Handler[int]
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) { h2 = h })
	if h2 != h1 {
		t.Error("Expected the same handler for a Ready entry")
	}

	// EOF tears the broadcast down.
	factory.built[0].ReadEOF()
	if pool.IsBroadcasting("url1") {
		t.Error("Expected eviction after upstream EOF")
	}
	if sub.completed != 1 {
		t.Errorf("Expected exactly one onCompleted, got %d", sub.completed)
	}
	loop.Tick()

	// A fresh getHandler reconnects.
	var h3 *broadcast.Handler[int]
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		h3 = h
		h.Subscribe(&mockSubscriber{})
	})
	loop.Tick()
	if h3 == nil || h3 == h1 {
		t.Error("Expected a fresh handler after reconnect")
	}

	// A different key yields a different broadcast.
	var h4 *broadcast.Handler[int]
	pool.GetHandler("url2").Then(func(h *broadcast.Handler[int], err error) {
		h4 = h
		h.Subscribe(&mockSubscriber{})
	})
	loop.Tick()
	if h4 == nil || h4 == h3 {
		t.Error("Expected a distinct handler per key")
	}
}

// TestOutstandingConnectCoalesces verifies two overlapping getHandler
// calls share one connect and resolve FIFO to the same handler.
func TestOutstandingConnectCoalesces(t *testing.T) {
	loop, sp, factory, pool := newTestPool(t)

	var order []string
	var h1, h2 *broadcast.Handler[int]
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		h1 = h
		h.Subscribe(&mockSubscriber{})
		order = append(order, "first")
	})
	if !pool.IsBroadcasting("url1") {
		t.Fatal("Expected a Connecting entry after the first call")
	}
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		h2 = h
		order = append(order, "second")
	})

	loop.Tick()

	if sp.connects != 1 {
		t.Errorf("Expected one coalesced connect, got %d", sp.connects)
	}
	if len(factory.routingCalls) != 1 {
		t.Errorf("Expected setRoutingData exactly once, got %v", factory.routingCalls)
	}
	if h1 == nil || h1 != h2 {
		t.Error("Expected both futures resolved with the same handler")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected FIFO waiter fulfilment, got %v", order)
	}
}

// TestConnectError verifies a failed connect fails every waiter, removes
// the entry, and leaves the pool usable for a retry by the caller.
func TestConnectError(t *testing.T) {
	loop, sp, _, pool := newTestPool(t)
	sp.asyncFail = true

	var errs []error
	for i := 0; i < 2; i++ {
		pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
			if err == nil {
				t.Error("Expected a connect error")
				return
			}
			if pool.IsBroadcasting("url1") {
				t.Error("Expected the entry gone before error callbacks run")
			}
			errs = append(errs, err)
		})
	}
	if !pool.IsBroadcasting("url1") {
		t.Fatal("Expected a Connecting entry while the connect is in flight")
	}

	loop.Tick()

	if len(errs) != 2 {
		t.Fatalf("Expected both waiters to fail, got %d errors", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, api.ErrConnectFailed) {
			t.Errorf("Expected ErrConnectFailed, got %v", err)
		}
	}
	if pool.IsBroadcasting("url1") {
		t.Error("Expected no entry after the failed connect")
	}

	// The pool does not retry; the caller does, and succeeds.
	sp.asyncFail = false
	var h *broadcast.Handler[int]
	pool.GetHandler("url1").Then(func(got *broadcast.Handler[int], err error) {
		h = got
		got.Subscribe(&mockSubscriber{})
	})
	loop.Tick()
	if h == nil {
		t.Error("Expected the retry to succeed")
	}
	if !pool.IsBroadcasting("url1") {
		t.Error("Expected a Ready entry after the retry")
	}
}

// TestServerPoolSynchronousFailure verifies an inline resolution error
// fails the caller before getHandler returns.
func TestServerPoolSynchronousFailure(t *testing.T) {
	_, sp, _, pool := newTestPool(t)
	sp.syncFail = true

	failed := false
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		if err == nil {
			t.Error("Expected a synchronous failure")
			return
		}
		if pool.IsBroadcasting("url1") {
			t.Error("Expected the entry gone before the error callback runs")
		}
		failed = true
	})

	if !failed {
		t.Error("Expected the future to fail inline")
	}
	if pool.IsBroadcasting("url1") {
		t.Error("Expected no entry after a synchronous failure")
	}
}

// TestRoutingDataFailure verifies a setRoutingData failure on the connect
// callback fails the waiters and leaks no pipeline.
func TestRoutingDataFailure(t *testing.T) {
	loop, sp, factory, pool := newTestPool(t)
	factory.routingErr = errors.New("malformed routing data")

	var got error
	pool.GetHandler("url").Then(func(h *broadcast.Handler[int], err error) {
		if h != nil {
			t.Error("Expected no handler on routing failure")
		}
		got = err
	})

	loop.Tick()

	if got == nil || !errors.Is(got, api.ErrRoutingDataFailed) {
		t.Errorf("Expected ErrRoutingDataFailed, got %v", got)
	}
	if pool.IsBroadcasting("url") {
		t.Error("Expected no entry after the routing failure")
	}
	if sp.lastClosed == nil || *sp.lastClosed == 0 {
		t.Error("Expected the connected transport closed, not leaked")
	}
}

// TestOrphanSweep verifies a Ready entry with zero subscribers is evicted
// right after fulfilment, and that one surviving subscriber keeps it.
func TestOrphanSweep(t *testing.T) {
	loop, _, factory, pool := newTestPool(t)

	resolved := 0
	for i := 0; i < 2; i++ {
		pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			// Neither caller subscribes: both abandoned the broadcast.
			resolved++
		})
	}
	loop.Tick()

	if resolved != 2 {
		t.Fatalf("Expected both futures fulfilled, got %d", resolved)
	}
	if pool.IsBroadcasting("url1") {
		t.Error("Expected the orphan entry evicted by the sweep")
	}

	// Same flow, but the second caller subscribes: the entry must stay.
	sub := &mockSubscriber{}
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {})
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		h.Subscribe(sub)
	})
	loop.Tick()

	if !pool.IsBroadcasting("url1") {
		t.Fatal("Expected the entry kept while a subscriber remains")
	}

	factory.built[len(factory.built)-1].ReadEOF()
	if pool.IsBroadcasting("url1") {
		t.Error("Expected eviction after the surviving subscriber's EOF")
	}
	if sub.completed != 1 {
		t.Errorf("Expected one onCompleted, got %d", sub.completed)
	}
	loop.Tick()
}

// TestLastSubscriberLeavingEvicts verifies the last unsubscribe of a live
// broadcast evicts the entry and tears the upstream down.
func TestLastSubscriberLeavingEvicts(t *testing.T) {
	loop, sp, _, pool := newTestPool(t)

	sub := &mockSubscriber{}
	var h *broadcast.Handler[int]
	var id uint64
	pool.GetHandler("url1").Then(func(got *broadcast.Handler[int], err error) {
		h = got
		id = got.Subscribe(sub)
	})
	loop.Tick()
	if h == nil || !pool.IsBroadcasting("url1") {
		t.Fatal("Expected a Ready entry with one subscriber")
	}

	h.Unsubscribe(id)
	if pool.IsBroadcasting("url1") {
		t.Error("Expected eviction when the last subscriber left")
	}
	loop.Tick()
	if sp.lastClosed == nil || *sp.lastClosed == 0 {
		t.Error("Expected the upstream transport closed")
	}
}

// TestThreadLocalIsolation verifies pools are independent per loop and
// per factory instance.
func TestThreadLocalIsolation(t *testing.T) {
	loopA := reactor.NewLoop(64)
	loopB := reactor.NewLoop(64)
	sp := &mockServerPool{}
	factory := newMockPipelineFactory()
	encode := func(v int) []byte { return []byte{byte(v)} }

	opf1 := broadcast.NewObservingPipelineFactory[int](sp, factory, encode, nil)
	opf2 := broadcast.NewObservingPipelineFactory[int](sp, factory, encode, nil)

	poolA := opf1.BroadcastPool(loopA)
	if got := opf1.BroadcastPool(loopA); got != poolA {
		t.Fatal("Expected one pool per (factory, loop)")
	}

	var hA *broadcast.Handler[int]
	poolA.GetHandler("url").Then(func(h *broadcast.Handler[int], err error) {
		hA = h
		h.Subscribe(&mockSubscriber{})
	})
	loopA.Tick()
	if hA == nil || !poolA.IsBroadcasting("url") {
		t.Fatal("Expected a Ready entry on loop A")
	}

	// Same factory, different loop: independent entry, different handler.
	poolB := opf1.BroadcastPool(loopB)
	if poolB.IsBroadcasting("url") {
		t.Error("Expected no broadcast for the same key on another loop")
	}
	var hB *broadcast.Handler[int]
	poolB.GetHandler("url").Then(func(h *broadcast.Handler[int], err error) {
		hB = h
		h.Subscribe(&mockSubscriber{})
	})
	loopB.Tick()
	if hB == nil || hB == hA {
		t.Error("Expected a distinct handler per loop")
	}

	// Different factory instance, same loop: independent pool again.
	poolC := opf2.BroadcastPool(loopA)
	if poolC == poolA {
		t.Error("Expected distinct pools per factory instance")
	}
	if poolC.IsBroadcasting("url") {
		t.Error("Expected no broadcast in the second factory's pool")
	}

	// Tearing one down leaves the other intact.
	factoryHandlersTeardown(t, factory, hA)
	if poolA.IsBroadcasting("url") {
		t.Error("Expected loop A's broadcast gone after teardown")
	}
	if !poolB.IsBroadcasting("url") {
		t.Error("Expected loop B's broadcast unaffected by loop A teardown")
	}
}

// factoryHandlersTeardown raises EOF on the pipeline owning h.
func factoryHandlersTeardown(t *testing.T, f *mockPipelineFactory, h *broadcast.Handler[int]) {
	t.Helper()
	for p, cand := range f.handlers {
		if cand == h {
			p.ReadEOF()
			return
		}
	}
	t.Fatal("Expected to find the pipeline for the handler")
}
