// File: broadcast/serverpool.go
// Package broadcast defines the ServerPool collaborator and its default
// implementation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package broadcast

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/internal/bufpool"
	itransport "github.com/momentics/hioload-pipeline/internal/transport"
	"github.com/momentics/hioload-pipeline/reactor"
)

// ServerPool resolves a routing key to a connect target. The returned
// future resolves on the caller's loop; a synchronous failure (resolution
// error, injected fault) may resolve it inline.
type ServerPool interface {
	Connect(loop *reactor.Loop, key string) *api.Future[api.Transport]
}

// Resolver maps a routing key to a dial address.
type Resolver func(key string) (string, error)

const (
	defaultResolveCacheSize = 1024
	defaultDialTimeout      = 10 * time.Second
	defaultUpstreamBufSize  = 64 * 1024
)

// AddressServerPool is the default ServerPool: resolver plus an LRU
// resolution cache in front of a plain TCP dial.
type AddressServerPool struct {
	resolver    Resolver
	cache       *lru.Cache[string, string]
	dialTimeout time.Duration
	bufs        *bufpool.Pool
	failInject  int32
}

var _ ServerPool = (*AddressServerPool)(nil)

// NewAddressServerPool builds a pool around resolver.
func NewAddressServerPool(resolver Resolver) (*AddressServerPool, error) {
	cache, err := lru.New[string, string](defaultResolveCacheSize)
	if err != nil {
		return nil, err
	}
	return &AddressServerPool{
		resolver:    resolver,
		cache:       cache,
		dialTimeout: defaultDialTimeout,
		bufs:        bufpool.New(defaultUpstreamBufSize),
	}, nil
}

// NewStaticServerPool resolves every key to the same address.
func NewStaticServerPool(addr string) *AddressServerPool {
	sp, _ := NewAddressServerPool(func(string) (string, error) {
		return addr, nil
	})
	return sp
}

// FailConnects toggles synchronous connect-failure injection.
func (sp *AddressServerPool) FailConnects(fail bool) {
	v := int32(0)
	if fail {
		v = 1
	}
	atomic.StoreInt32(&sp.failInject, v)
}

// Connect resolves key and dials it off-loop, resolving the future on
// loop. Resolution failures and injected faults resolve synchronously.
func (sp *AddressServerPool) Connect(loop *reactor.Loop, key string) *api.Future[api.Transport] {
	promise := api.NewPromise[api.Transport]()

	if atomic.LoadInt32(&sp.failInject) == 1 {
		promise.Fail(api.NewAcceptorError(api.CodeConnectFailed, fmt.Sprintf("connect to %q refused by fault injection", key)))
		return promise.Future()
	}

	addr, err := sp.resolve(key)
	if err != nil {
		promise.Fail(api.WrapAcceptorError(api.CodeConnectFailed, err))
		return promise.Future()
	}

	go func() {
		conn, dialErr := net.DialTimeout("tcp", addr, sp.dialTimeout)
		postErr := loop.Post(func() {
			if dialErr != nil {
				promise.Fail(api.WrapAcceptorError(api.CodeConnectFailed, dialErr))
				return
			}
			promise.Complete(itransport.NewConn(conn, loop, api.SecureNone, "", sp.bufs))
		})
		if postErr != nil {
			if conn != nil {
				conn.Close()
			}
			promise.Fail(api.WrapAcceptorError(api.CodeConnectFailed, postErr))
		}
	}()
	return promise.Future()
}

func (sp *AddressServerPool) resolve(key string) (string, error) {
	if addr, ok := sp.cache.Get(key); ok {
		return addr, nil
	}
	addr, err := sp.resolver(key)
	if err != nil {
		return "", err
	}
	sp.cache.Add(key, addr)
	return addr, nil
}
