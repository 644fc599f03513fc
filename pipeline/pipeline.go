// File: pipeline/pipeline.go
// Package pipeline implements the handler chain and its lifecycle.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lifecycle contract: TransportActive fires once, before any Read; a
// transport-owning pipeline delivers at most one terminal event, ReadEOF
// or ReadException, while a pipeline without a transport (the accept
// pipeline) delivers every one; Close is idempotent. The
// pipeline holds a non-owning reference to its manager; DeletePipeline on
// the manager is the single teardown funnel.

package pipeline

import (
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/reactor"
)

// Manager is notified when a pipeline decides to tear down. The managing
// connection owns the pipeline; the pipeline only holds this back-reference.
type Manager interface {
	DeletePipeline(*Pipeline)
}

// Pipeline is an ordered chain of inbound handlers around one transport.
type Pipeline struct {
	loop     *reactor.Loop
	contexts []*Context

	transport api.Transport
	info      *api.TransportInfo
	manager   Manager

	active    bool
	eofFired  bool
	excFired  bool
	closed    bool
	deletions int
}

// New creates an empty pipeline pinned to loop.
func New(loop *reactor.Loop) *Pipeline {
	return &Pipeline{loop: loop}
}

// AddBack appends h to the end of the chain. Must be called before the
// first event is delivered.
func (p *Pipeline) AddBack(h Handler) *Pipeline {
	ctx := &Context{pipeline: p, idx: len(p.contexts)}
	ctx.handler = h
	p.contexts = append(p.contexts, ctx)
	return p
}

// Loop returns the owning reactor loop.
func (p *Pipeline) Loop() *reactor.Loop {
	return p.loop
}

// SetManager installs the teardown funnel.
func (p *Pipeline) SetManager(m Manager) {
	p.manager = m
}

// SetTransport attaches the transport. The pipeline owns it from here on.
func (p *Pipeline) SetTransport(t api.Transport) {
	p.transport = t
}

// Transport returns the attached transport, nil before SetTransport.
func (p *Pipeline) Transport() api.Transport {
	return p.transport
}

// SetTransportInfo attaches accept-time metadata.
func (p *Pipeline) SetTransportInfo(info *api.TransportInfo) {
	p.info = info
}

// TransportInfo returns accept-time metadata, nil if never set.
func (p *Pipeline) TransportInfo() *api.TransportInfo {
	return p.info
}

// TransportActive announces the transport to the chain. Only the first call
// has effect.
func (p *Pipeline) TransportActive() {
	if p.active {
		return
	}
	p.active = true
	p.dispatchTransportActive(0)
}

// Read delivers msg to the chain. On a transport-owning pipeline, events
// after the terminal callback are dropped.
func (p *Pipeline) Read(msg any) {
	if p.transport != nil && p.terminalFired() {
		return
	}
	p.dispatchRead(0, msg)
}

// ReadEOF delivers end-of-stream to the chain. A transport-owning pipeline
// fires exactly one terminal callback, EOF or exception; a control
// pipeline (no transport, e.g. the accept pipeline) has no terminal latch.
func (p *Pipeline) ReadEOF() {
	if p.transport != nil {
		if p.terminalFired() {
			return
		}
		p.eofFired = true
	}
	p.dispatchReadEOF(0)
}

// ReadException delivers err to the chain. Latching follows ReadEOF: the
// accept pipeline sees every accept error, a connection pipeline sees at
// most one terminal event.
func (p *Pipeline) ReadException(err error) {
	if p.transport != nil {
		if p.terminalFired() {
			return
		}
		p.excFired = true
	}
	p.dispatchReadException(0, err)
}

func (p *Pipeline) terminalFired() bool {
	return p.eofFired || p.excFired
}

// Close shuts the transport down. Idempotent.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.transport != nil {
		return p.transport.Close()
	}
	return nil
}

// RequestDeletion funnels teardown through the manager exactly once. A
// pipeline without a manager just closes.
func (p *Pipeline) RequestDeletion() {
	p.deletions++
	if p.deletions > 1 {
		return
	}
	if p.manager != nil {
		p.manager.DeletePipeline(p)
		return
	}
	_ = p.Close()
}

func (p *Pipeline) dispatchTransportActive(from int) {
	if from < len(p.contexts) {
		c := p.contexts[from]
		c.handler.TransportActive(c)
	}
}

func (p *Pipeline) dispatchRead(from int, msg any) {
	if from < len(p.contexts) {
		c := p.contexts[from]
		c.handler.Read(c, msg)
	}
}

func (p *Pipeline) dispatchReadEOF(from int) {
	if from < len(p.contexts) {
		c := p.contexts[from]
		c.handler.ReadEOF(c)
	}
}

func (p *Pipeline) dispatchReadException(from int, err error) {
	if from < len(p.contexts) {
		c := p.contexts[from]
		c.handler.ReadException(c, err)
	}
}
