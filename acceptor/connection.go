// File: acceptor/connection.go
// Package acceptor implements managed connection records.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Connection owns its child pipeline and is the pipeline's manager. The
// teardown funnel runs through DeletePipeline, which moves the record onto
// the loop's deferred queue so nothing frees itself while a callback is
// still on the stack.

package acceptor

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pipeline"
)

// Connection tracks one live child pipeline on an Acceptor. All state is
// loop-pinned.
type Connection struct {
	id       string
	acceptor *Acceptor
	pipeline *pipeline.Pipeline

	idleTimer *clock.Timer

	busy            bool
	pendingShutdown bool
	closeWhenIdle   bool
	deleted         bool
}

var _ pipeline.Manager = (*Connection)(nil)

// newConnection wires the record as the pipeline's manager.
func newConnection(a *Acceptor, p *pipeline.Pipeline, id string) *Connection {
	c := &Connection{id: id, acceptor: a, pipeline: p}
	p.SetManager(c)
	return c
}

// NewConnection builds a record for a pipeline that did not come through
// the accept path: synthetic connections injected by accept-pipeline
// handlers, or tests driving an Acceptor without a listener. The record
// gets a generated id when registered.
func NewConnection(a *Acceptor, p *pipeline.Pipeline) *Connection {
	return newConnection(a, p, "")
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Pipeline returns the owned child pipeline.
func (c *Connection) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

// SetBusy marks the connection busy; busy connections survive
// CloseWhenIdle until released. Upper handlers own this flag.
func (c *Connection) SetBusy(busy bool) {
	c.busy = busy
	if !busy && c.closeWhenIdle {
		c.DropConnection()
	}
}

// IsBusy reports the busy flag. Always false unless an upper handler set it.
func (c *Connection) IsBusy() bool {
	return c.busy
}

// armIdleTimer schedules idle expiry. A zero timeout disables it.
func (c *Connection) armIdleTimer(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	clk := c.acceptor.cfg.Clock
	loop := c.acceptor.loop
	c.idleTimer = clk.AfterFunc(timeout, func() {
		_ = loop.Post(c.timeoutExpired)
	})
}

// Touch pushes the idle deadline out. Upper handlers call this on
// application-level activity. Runs on the owning loop.
func (c *Connection) Touch(timeout time.Duration) {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.armIdleTimer(timeout)
}

// timeoutExpired raises TimedOut into the child pipeline's read-error
// channel; the pipeline is expected to close and request deletion.
func (c *Connection) timeoutExpired() {
	if c.deleted {
		return
	}
	c.pipeline.ReadException(api.WrapAcceptorError(api.CodeTimedOut, api.ErrTimedOut))
}

// NotifyPendingShutdown flags the connection ahead of a drain.
func (c *Connection) NotifyPendingShutdown() {
	c.pendingShutdown = true
}

// CloseWhenIdle closes now unless the connection is busy, in which case it
// closes when the busy flag clears.
func (c *Connection) CloseWhenIdle() {
	if c.busy {
		c.closeWhenIdle = true
		return
	}
	c.DropConnection()
}

// DropConnection forcefully tears the connection down.
func (c *Connection) DropConnection() {
	if c.deleted {
		return
	}
	_ = c.pipeline.Close()
	c.DeletePipeline(c.pipeline)
}

// DeletePipeline is the single teardown funnel. The record is detached
// immediately and released at the end of the current tick.
func (c *Connection) DeletePipeline(p *pipeline.Pipeline) {
	if p != c.pipeline || c.deleted {
		return
	}
	c.deleted = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	a := c.acceptor
	a.loop.Defer(func() {
		_ = c.pipeline.Close()
		a.removeConnection(c)
	})
}
