// File: server/server.go
// Package server implements the Bootstrap.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Startup order: loop group first, then the worker pool observes it so
// every live loop gets its Acceptor, then listeners bind and mirror across
// workers. Stop reverses it: listeners close, connections drain per the
// shutdown contract, the group goes down last.

package server

import (
	"errors"
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-pipeline/acceptor"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	itransport "github.com/momentics/hioload-pipeline/internal/transport"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
)

var (
	ErrAlreadyStarted = errors.New("bootstrap already started")
	ErrNotStarted     = errors.New("bootstrap not started")
	ErrNoChildFactory = errors.New("no child pipeline factory configured")
)

// Bootstrap assembles the loop group, worker pool, and listeners.
type Bootstrap struct {
	cfg *Config

	acceptFactory pipeline.AcceptFactory
	childFactory  pipeline.Factory
	decorator     acceptor.AcceptDecorator
	stats         api.StatsSink
	clk           clock.Clock

	mu         sync.Mutex
	group      *reactor.Group
	workerPool *acceptor.WorkerPool
	settings   *control.Settings
	started    bool
	stopped    bool
}

// New creates a Bootstrap from cfg and options.
func New(cfg *Config, opts ...Option) *Bootstrap {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := &Bootstrap{
		cfg:      cfg,
		stats:    api.NopStats{},
		clk:      clock.New(),
		settings: control.NewSettings(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start brings the loop group up and registers the worker pool.
func (b *Bootstrap) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	if b.childFactory == nil && b.acceptFactory == nil {
		return ErrNoChildFactory
	}
	b.started = true

	b.group = reactor.NewGroup(b.cfg.Loops, b.cfg.QueueSize)
	factory := acceptor.NewFactory(acceptor.Config{
		AcceptFactory: b.acceptFactory,
		ChildFactory:  b.childFactory,
		IdleTimeout:   b.cfg.IdleTimeout,
		ReadBufSize:   b.cfg.ReadBufSize,
		Clock:         b.clk,
		Stats:         b.stats,
	})
	b.workerPool = acceptor.NewWorkerPool(factory, b.decorator, b.stats)
	b.group.AddObserver(b.workerPool)
	b.group.Start()

	b.settings.Seed(map[string]any{
		control.KeyLoops:           b.group.Size(),
		control.KeyBacklog:         b.cfg.Backlog,
		control.KeyIdleTimeout:     b.cfg.IdleTimeout,
		control.KeyShutdownTimeout: b.cfg.ShutdownTimeout,
	})
	b.settings.OnReload(b.applyRuntimeSettings)
	return nil
}

// applyRuntimeSettings pushes reloadable values out to live components.
// It runs on the updating goroutine; loop-pinned state is reached by
// posting to the owning loop.
func (b *Bootstrap) applyRuntimeSettings(snap control.Snapshot) {
	b.mu.Lock()
	wp := b.workerPool
	b.mu.Unlock()
	if wp == nil {
		return
	}
	if timeout, ok := snap.Duration(control.KeyIdleTimeout); ok {
		wp.ForEachWorker(func(a *acceptor.Acceptor) {
			_ = a.Loop().Post(func() { a.SetIdleTimeout(timeout) })
		})
	}
}

// Bind binds addr into a listening socket, mirrors it across workers, and
// returns the chosen local address, which is how tests learn the
// ephemeral port.
func (b *Bootstrap) Bind(addr string) (net.Addr, error) {
	b.mu.Lock()
	wp := b.workerPool
	b.mu.Unlock()
	if wp == nil {
		return nil, ErrNotStarted
	}
	ln, err := itransport.NewListener(addr, b.cfg.Backlog)
	if err != nil {
		return nil, err
	}
	wp.AddListener(ln)
	return ln.Addr(), nil
}

// BindMany binds every address concurrently and returns the first error.
// It waits for every bind to finish; addresses that bound stay bound.
func (b *Bootstrap) BindMany(addrs ...string) error {
	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			_, err := b.Bind(addr)
			return err
		})
	}
	return g.Wait()
}

// BindDatagram binds a datagram socket whose payloads surface as Datagram
// events on the accept pipelines.
func (b *Bootstrap) BindDatagram(addr string) (net.Addr, error) {
	b.mu.Lock()
	wp := b.workerPool
	b.mu.Unlock()
	if wp == nil {
		return nil, ErrNotStarted
	}
	pc, id, err := itransport.NewPacketListener(addr)
	if err != nil {
		return nil, err
	}
	wp.AddPacketListener(pc, id)
	return pc.LocalAddr(), nil
}

// Sockets exposes the bound listener list for address introspection.
func (b *Bootstrap) Sockets() []net.Listener {
	b.mu.Lock()
	wp := b.workerPool
	b.mu.Unlock()
	if wp == nil {
		return nil
	}
	lns := wp.Listeners()
	out := make([]net.Listener, len(lns))
	for i, ln := range lns {
		out[i] = ln
	}
	return out
}

// Group returns the reactor group, nil before Start.
func (b *Bootstrap) Group() *reactor.Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.group
}

// WorkerPool returns the worker pool, nil before Start.
func (b *Bootstrap) WorkerPool() *acceptor.WorkerPool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workerPool
}

// Settings returns the bootstrap's runtime-settings store. Updates to the
// idle timeout take effect on live acceptors through the reload listener.
func (b *Bootstrap) Settings() *control.Settings {
	return b.settings
}

// Stop closes the listeners, drains outstanding connections, and stops
// the loop group. Idempotent.
func (b *Bootstrap) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	wp := b.workerPool
	group := b.group
	b.mu.Unlock()

	timeout := b.cfg.ShutdownTimeout
	if d, ok := b.settings.Snapshot().Duration(control.KeyShutdownTimeout); ok {
		timeout = d
	}
	wp.StopListeners()
	wp.Drain(timeout, b.clk)
	group.Stop()
}
