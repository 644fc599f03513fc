// File: internal/transport/transport.go
// Package transport implements the net.Conn-backed Transport and its
// loop-pinned read path.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Conn bridges blocking socket reads onto the owning reactor loop: the
// read goroutine posts Read/ReadEOF/ReadException tasks so all pipeline
// mutation happens on the loop.

package transport

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/internal/bufpool"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/reactor"
)

// Conn implements api.Transport over a net.Conn.
type Conn struct {
	raw    net.Conn
	info   *api.TransportInfo
	loop   *reactor.Loop
	bufs   *bufpool.Pool
	closed int32
}

var _ api.Transport = (*Conn)(nil)

// NewConn wraps raw for the given loop, capturing accept-time metadata.
func NewConn(raw net.Conn, loop *reactor.Loop, kind api.SecureTransportKind, nextProto string, bufs *bufpool.Pool) *Conn {
	return &Conn{
		raw:  raw,
		loop: loop,
		bufs: bufs,
		info: &api.TransportInfo{
			ConnID:       uuid.NewString(),
			LocalAddr:    raw.LocalAddr(),
			RemoteAddr:   raw.RemoteAddr(),
			SecureKind:   kind,
			NextProtocol: nextProto,
			AcceptTime:   time.Now(),
		},
	}
}

// Write writes p to the socket.
func (c *Conn) Write(p []byte) (int, error) {
	return c.raw.Write(p)
}

// Close shuts the socket down. Idempotent.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.raw.Close()
}

// LocalAddr returns the bound local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Info returns accept-time metadata.
func (c *Conn) Info() *api.TransportInfo {
	return c.info
}

// ServeRead pumps socket reads into p on the owning loop until EOF, error,
// or close. It blocks and is meant to run on its own goroutine.
func (c *Conn) ServeRead(p *pipeline.Pipeline) {
	for {
		buf := c.bufs.Get()
		n, err := c.raw.Read(buf)
		if n > 0 {
			msg := make([]byte, n)
			copy(msg, buf[:n])
			c.bufs.Put(buf)
			if !c.post(func() { p.Read(msg) }) {
				return
			}
		} else {
			c.bufs.Put(buf)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.post(func() { p.ReadEOF() })
			} else {
				c.post(func() { p.ReadException(err) })
			}
			return
		}
	}
}

// post delivers fn to the loop, retrying briefly on a full queue. Returns
// false once the loop is gone.
func (c *Conn) post(fn func()) bool {
	for {
		err := c.loop.Post(fn)
		if err == nil {
			return true
		}
		if errors.Is(err, api.ErrLoopStopped) {
			_ = c.Close()
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
