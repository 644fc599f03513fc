// File: acceptor/acceptor.go
// Package acceptor implements the per-loop Acceptor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// An Acceptor owns one accept pipeline. Every accepted transport is
// synthesized into a NewConnection event and read into that pipeline; the
// Acceptor appends itself as the terminal inbound handler whenever a child
// pipeline factory is configured, after a custom accept chain if one was
// installed, building child pipelines and registering managed connections.
// A single bad connection never takes the listener down: listener accept
// errors are counted at the stats sink and read into the accept pipeline
// as AcceptError events, and errors raised on the accept pipeline's error
// channel end at the stats sink.

package acceptor

import (
	"log"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/internal/bufpool"
	itransport "github.com/momentics/hioload-pipeline/internal/transport"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
)

const defaultReadBufferSize = 64 * 1024

// Config carries the factories and per-listener settings an Acceptor needs.
type Config struct {
	AcceptFactory pipeline.AcceptFactory // optional custom accept chain
	ChildFactory  pipeline.Factory       // child pipelines for accepted transports
	IdleTimeout   time.Duration          // zero disables idle expiry
	ReadBufSize   int
	Clock         clock.Clock            // nil selects the wall clock
	Stats         api.StatsSink          // nil discards
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	if out.Stats == nil {
		out.Stats = api.NopStats{}
	}
	if out.ReadBufSize <= 0 {
		out.ReadBufSize = defaultReadBufferSize
	}
	return out
}

// Factory creates one Acceptor per started loop.
type Factory interface {
	NewAcceptor(loop *reactor.Loop) (*Acceptor, error)
}

// NewFactory returns the default factory closing over cfg.
func NewFactory(cfg Config) Factory {
	return factoryFunc(func(loop *reactor.Loop) (*Acceptor, error) {
		return NewAcceptor(loop, cfg)
	})
}

type factoryFunc func(loop *reactor.Loop) (*Acceptor, error)

func (f factoryFunc) NewAcceptor(loop *reactor.Loop) (*Acceptor, error) {
	return f(loop)
}

// Acceptor binds the accept pipeline to one loop and tracks live
// connections. All fields below are mutated only on the owning loop.
type Acceptor struct {
	loop *reactor.Loop
	cfg  Config
	bufs *bufpool.Pool

	acceptPipeline *pipeline.Pipeline
	connections    map[string]*Connection
	listenerIDs    []string
	idleTimeout    time.Duration
}

var _ pipeline.Handler = (*Acceptor)(nil)

// NewAcceptor builds an Acceptor pinned to loop. When cfg.AcceptFactory is
// nil a default empty accept pipeline is created, and the Acceptor appends
// itself as the terminal inbound handler whenever a child factory is
// configured.
func NewAcceptor(loop *reactor.Loop, cfg Config) (*Acceptor, error) {
	cfg = cfg.withDefaults()
	a := &Acceptor{
		loop:        loop,
		cfg:         cfg,
		bufs:        bufpool.New(cfg.ReadBufSize),
		connections: make(map[string]*Connection),
		idleTimeout: cfg.IdleTimeout,
	}

	var p *pipeline.Pipeline
	if cfg.AcceptFactory != nil {
		built, err := cfg.AcceptFactory.NewAcceptPipeline(loop)
		if err != nil {
			return nil, err
		}
		p = built
	} else {
		p = pipeline.New(loop)
	}
	if cfg.ChildFactory != nil {
		p.AddBack(a)
	}
	a.acceptPipeline = p
	return a, nil
}

// Loop returns the owning reactor loop.
func (a *Acceptor) Loop() *reactor.Loop {
	return a.loop
}

// AddListenerID mirrors a bound listener onto this acceptor.
func (a *Acceptor) AddListenerID(id string) {
	a.listenerIDs = append(a.listenerIDs, id)
}

// ListenerIDs returns the mirrored listener set.
func (a *Acceptor) ListenerIDs() []string {
	return append([]string(nil), a.listenerIDs...)
}

// Accept posts ev onto the owning loop and reads it into the accept
// pipeline. Safe from any goroutine.
func (a *Acceptor) Accept(ev api.AcceptEvent) {
	_ = a.loop.Post(func() {
		a.acceptPipeline.Read(ev)
	})
}

// AcceptConn wraps a raw accepted socket into a Transport and runs it
// through the accept pipeline.
func (a *Acceptor) AcceptConn(raw net.Conn, kind api.SecureTransportKind, nextProto string) {
	if err := itransport.SetAcceptedSockopts(raw); err != nil {
		a.cfg.Stats.AcceptError(err)
	}
	tr := itransport.NewConn(raw, a.loop, kind, nextProto, a.bufs)
	a.Accept(api.NewConnection{
		Transport:    tr,
		RemoteAddr:   tr.RemoteAddr(),
		NextProtocol: nextProto,
		SecureKind:   kind,
		Info:         tr.Info(),
	})
}

// SSLConnectionError injects the negotiation failure into the accept
// pipeline first, so accept-path handlers may record or suppress it, then
// runs the default accounting.
func (a *Acceptor) SSLConnectionError(err error) {
	_ = a.loop.Post(func() {
		a.acceptPipeline.ReadException(err)
		a.cfg.Stats.TLSError(err)
		log.Printf("[acceptor] ssl connection error: %v", err)
	})
}

// TransportActive terminates transport activation on the accept pipeline.
func (a *Acceptor) TransportActive(ctx *pipeline.Context) {}

// Read is the terminal inbound handler of the default accept chain. Only
// NewConnection is interpreted here; other variants are dropped.
func (a *Acceptor) Read(ctx *pipeline.Context, msg any) {
	ev, ok := msg.(api.AcceptEvent)
	if !ok {
		return
	}
	switch e := ev.(type) {
	case api.NewConnection:
		a.buildChild(e)
	default:
		// Datagram, ConnAdded, ConnRemoved, AcceptError: upstream
		// handlers had their chance; nothing to do at the terminal.
	}
}

// ReadEOF terminates the call in this handler.
func (a *Acceptor) ReadEOF(ctx *pipeline.Context) {}

// ReadException terminates accept-path errors at the stats sink.
func (a *Acceptor) ReadException(ctx *pipeline.Context, err error) {
	a.cfg.Stats.AcceptError(err)
	log.Printf("[acceptor] accept pipeline error: %v", err)
}

// buildChild constructs the child pipeline for an accepted transport and
// registers its managed connection. Runs on the owning loop.
func (a *Acceptor) buildChild(ev api.NewConnection) {
	child, err := a.cfg.ChildFactory.NewPipeline(a.loop, ev.Transport)
	if err != nil {
		a.cfg.Stats.AcceptError(err)
		if ev.Transport != nil {
			_ = ev.Transport.Close()
		}
		return
	}
	child.SetTransport(ev.Transport)
	if ev.Info != nil {
		child.SetTransportInfo(ev.Info)
	}

	conn := newConnection(a, child, connID(ev.Info))
	a.AddConnection(conn)

	child.TransportActive()

	if tc, ok := ev.Transport.(*itransport.Conn); ok {
		go tc.ServeRead(child)
	}
}

// AddConnection registers a managed connection and arms its idle deadline.
// Connections arriving without accept-time metadata (synthetic injections
// and tests) get a generated id. Runs on the owning loop.
func (a *Acceptor) AddConnection(conn *Connection) {
	if conn.id == "" {
		conn.id = uuid.NewString()
	}
	a.connections[conn.id] = conn
	conn.armIdleTimer(a.idleTimeout)
	a.cfg.Stats.ConnectionAccepted()
	a.OnConnectionAdded()
}

// SetIdleTimeout changes the idle deadline armed on subsequently added
// connections. Live connections keep their current deadline until they
// are touched. Runs on the owning loop; the bootstrap's reload listener
// posts it there.
func (a *Acceptor) SetIdleTimeout(timeout time.Duration) {
	a.idleTimeout = timeout
}

// IdleTimeout reports the current idle deadline. Owning loop only.
func (a *Acceptor) IdleTimeout() time.Duration {
	return a.idleTimeout
}

// OnConnectionAdded re-injects a ConnAdded event into the accept pipeline.
func (a *Acceptor) OnConnectionAdded() {
	a.acceptPipeline.Read(api.ConnAdded{})
}

// OnConnectionRemoved re-injects a ConnRemoved event into the accept
// pipeline.
func (a *Acceptor) OnConnectionRemoved() {
	a.acceptPipeline.Read(api.ConnRemoved{})
}

// removeConnection drops the record. Runs on the owning loop.
func (a *Acceptor) removeConnection(conn *Connection) {
	if _, ok := a.connections[conn.id]; !ok {
		return
	}
	delete(a.connections, conn.id)
	a.cfg.Stats.ConnectionDropped()
	a.OnConnectionRemoved()
}

// ConnectionCount reports the number of managed connections. Only
// meaningful from the owning loop.
func (a *Acceptor) ConnectionCount() int {
	return len(a.connections)
}

// NotifyPendingShutdown tells every managed connection a stop is coming.
// Runs on the owning loop.
func (a *Acceptor) NotifyPendingShutdown() {
	for _, conn := range a.snapshot() {
		conn.NotifyPendingShutdown()
	}
}

// CloseWhenIdle closes every non-busy connection. Runs on the owning loop.
func (a *Acceptor) CloseWhenIdle() {
	for _, conn := range a.snapshot() {
		conn.CloseWhenIdle()
	}
}

// DropAllConnections forcefully drops whatever is left. Runs on the owning
// loop.
func (a *Acceptor) DropAllConnections() {
	for _, conn := range a.snapshot() {
		conn.DropConnection()
	}
}

func (a *Acceptor) snapshot() []*Connection {
	out := make([]*Connection, 0, len(a.connections))
	for _, c := range a.connections {
		out = append(out, c)
	}
	return out
}

func connID(info *api.TransportInfo) string {
	if info == nil {
		return ""
	}
	return info.ConnID
}
