// File: internal/bufpool/bufpool.go
// Author: momentics <momentics@gmail.com>

// Package bufpool provides reusable read buffers for transport read loops.
package bufpool

import "sync"

// Pool hands out fixed-size byte buffers.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a pool of buffers of the given size.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Get returns a buffer from the pool.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers of a different size are
// dropped for the GC to collect.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}

// Size returns the fixed buffer size.
func (p *Pool) Size() int {
	return p.size
}
