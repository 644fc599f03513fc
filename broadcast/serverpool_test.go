// File: broadcast/serverpool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Exercises the default ServerPool against a live bootstrap server, the
// way callers combine the two subsystems.

package broadcast_test

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/broadcast"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
	"github.com/momentics/hioload-pipeline/server"
)

func startServer(t *testing.T) (*server.Bootstrap, string) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Loops = 1
	cfg.ShutdownTimeout = 10 * time.Millisecond
	b := server.New(cfg, server.WithChildPipeline(
		pipeline.FactoryFunc(func(loop *reactor.Loop, tr api.Transport) (*pipeline.Pipeline, error) {
			return pipeline.New(loop), nil
		}),
	))
	if err := b.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	addr, err := b.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind returned error: %v", err)
	}
	return b, addr.String()
}

// awaitTicks drives the loop until cond holds or the deadline passes.
func awaitTicks(loop *reactor.Loop, cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		loop.Tick()
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// TestAddressServerPoolConnectsToLiveServer verifies the dial path
// resolves the future on the caller's loop with a working transport.
func TestAddressServerPoolConnectsToLiveServer(t *testing.T) {
	srv, addr := startServer(t)
	defer srv.Stop()

	loop := reactor.NewLoop(64)
	sp := broadcast.NewStaticServerPool(addr)
	factory := newMockPipelineFactory()
	pool := broadcast.NewPool[int](loop, sp, factory, nil)

	var h *broadcast.Handler[int]
	pool.GetHandler("url1").Then(func(got *broadcast.Handler[int], err error) {
		if err != nil {
			t.Errorf("Unexpected connect error: %v", err)
			return
		}
		h = got
		got.Subscribe(&mockSubscriber{})
	})

	if !awaitTicks(loop, func() bool { return h != nil }) {
		t.Fatal("Timed out waiting for the broadcast connect")
	}
	if !pool.IsBroadcasting("url1") {
		t.Error("Expected a Ready entry after the live connect")
	}
	if len(factory.routingCalls) != 1 || factory.routingCalls[0] != "url1" {
		t.Errorf("Expected routing data set once, got %v", factory.routingCalls)
	}

	factoryHandlersTeardown(t, factory, h)
	if pool.IsBroadcasting("url1") {
		t.Error("Expected eviction after EOF")
	}
	loop.Tick()
}

// TestAddressServerPoolConnectRefused verifies a dead upstream fails every
// coalesced waiter.
func TestAddressServerPoolConnectRefused(t *testing.T) {
	loop := reactor.NewLoop(64)
	// Nothing listens on loopback port 1.
	sp := broadcast.NewStaticServerPool("127.0.0.1:1")
	pool := broadcast.NewPool[int](loop, sp, newMockPipelineFactory(), nil)

	var errs []error
	for i := 0; i < 2; i++ {
		pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
			if err != nil {
				errs = append(errs, err)
			}
		})
	}

	if !awaitTicks(loop, func() bool { return len(errs) == 2 }) {
		t.Fatal("Timed out waiting for the connect failure")
	}
	for _, err := range errs {
		if !errors.Is(err, api.ErrConnectFailed) {
			t.Errorf("Expected ErrConnectFailed, got %v", err)
		}
	}
	if pool.IsBroadcasting("url1") {
		t.Error("Expected no entry after the refused connect")
	}
}

// TestAddressServerPoolFailConnectsHook verifies the synchronous fault
// injection used by tests.
func TestAddressServerPoolFailConnectsHook(t *testing.T) {
	loop := reactor.NewLoop(64)
	sp := broadcast.NewStaticServerPool("127.0.0.1:1")
	sp.FailConnects(true)
	pool := broadcast.NewPool[int](loop, sp, newMockPipelineFactory(), nil)

	failed := false
	pool.GetHandler("url1").Then(func(h *broadcast.Handler[int], err error) {
		if !errors.Is(err, api.ErrConnectFailed) {
			t.Errorf("Expected ErrConnectFailed, got %v", err)
		}
		failed = true
	})
	if !failed {
		t.Error("Expected an inline failure")
	}
	if pool.IsBroadcasting("url1") {
		t.Error("Expected no entry after the injected failure")
	}
}

// TestAddressServerPoolResolverError verifies resolver failures surface
// synchronously.
func TestAddressServerPoolResolverError(t *testing.T) {
	loop := reactor.NewLoop(64)
	sp, err := broadcast.NewAddressServerPool(func(key string) (string, error) {
		return "", errors.New("unknown routing key " + key)
	})
	if err != nil {
		t.Fatalf("NewAddressServerPool returned error: %v", err)
	}
	pool := broadcast.NewPool[int](loop, sp, newMockPipelineFactory(), nil)

	failed := false
	pool.GetHandler("nowhere").Then(func(h *broadcast.Handler[int], err error) {
		if err == nil {
			t.Error("Expected a resolution error")
		}
		failed = true
	})
	if !failed {
		t.Error("Expected the future resolved inline")
	}
}
