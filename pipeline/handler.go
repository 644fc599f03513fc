// File: pipeline/handler.go
// Package pipeline defines the inbound handler contract and adapters.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import "github.com/momentics/hioload-pipeline/api"

// Handler processes inbound events at one position of a pipeline. An event
// stops at a handler unless the handler forwards it through its Context.
type Handler interface {
	TransportActive(ctx *Context)
	Read(ctx *Context, msg any)
	ReadEOF(ctx *Context)
	ReadException(ctx *Context, err error)
}

// Context is a handler's view of its pipeline position. Fire* methods
// forward the event to the next inbound handler.
type Context struct {
	pipeline *Pipeline
	handler  Handler
	idx      int
}

// Pipeline returns the owning pipeline.
func (c *Context) Pipeline() *Pipeline {
	return c.pipeline
}

// Transport returns the pipeline's transport, nil before attachment.
func (c *Context) Transport() api.Transport {
	return c.pipeline.Transport()
}

// FireTransportActive forwards transport activation to the next handler.
func (c *Context) FireTransportActive() {
	c.pipeline.dispatchTransportActive(c.idx + 1)
}

// FireRead forwards msg to the next handler.
func (c *Context) FireRead(msg any) {
	c.pipeline.dispatchRead(c.idx+1, msg)
}

// FireReadEOF forwards EOF to the next handler.
func (c *Context) FireReadEOF() {
	c.pipeline.dispatchReadEOF(c.idx + 1)
}

// FireReadException forwards err to the next handler.
func (c *Context) FireReadException(err error) {
	c.pipeline.dispatchReadException(c.idx+1, err)
}

// DeletePipeline asks the pipeline's manager to tear the pipeline down.
func (c *Context) DeletePipeline() {
	c.pipeline.RequestDeletion()
}

// Adapter is a pass-through Handler for embedding. Every event is forwarded
// unchanged; override the methods you need.
type Adapter struct{}

func (Adapter) TransportActive(ctx *Context) { ctx.FireTransportActive() }

func (Adapter) Read(ctx *Context, msg any) { ctx.FireRead(msg) }

func (Adapter) ReadEOF(ctx *Context) { ctx.FireReadEOF() }

func (Adapter) ReadException(ctx *Context, err error) { ctx.FireReadException(err) }

// ReadFunc adapts a function into a terminal Read handler. EOF and errors
// terminate at it.
type ReadFunc func(ctx *Context, msg any)

func (f ReadFunc) TransportActive(ctx *Context)          {}
func (f ReadFunc) Read(ctx *Context, msg any)            { f(ctx, msg) }
func (f ReadFunc) ReadEOF(ctx *Context)                  {}
func (f ReadFunc) ReadException(ctx *Context, err error) {}
