// File: pipeline/factory.go
// Package pipeline defines pipeline construction contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import (
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/reactor"
)

// Factory builds child pipelines for accepted transports. The returned
// pipeline is pinned to loop; the caller attaches the transport and fires
// TransportActive.
type Factory interface {
	NewPipeline(loop *reactor.Loop, transport api.Transport) (*Pipeline, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(loop *reactor.Loop, transport api.Transport) (*Pipeline, error)

func (f FactoryFunc) NewPipeline(loop *reactor.Loop, transport api.Transport) (*Pipeline, error) {
	return f(loop, transport)
}

// AcceptFactory builds the accept pipeline an acceptor reads AcceptEvents
// into. When the application supplies no custom accept factory, the
// acceptor installs itself as the terminal inbound handler of a default
// empty pipeline.
type AcceptFactory interface {
	NewAcceptPipeline(loop *reactor.Loop) (*Pipeline, error)
}

// AcceptFactoryFunc adapts a function into an AcceptFactory.
type AcceptFactoryFunc func(loop *reactor.Loop) (*Pipeline, error)

func (f AcceptFactoryFunc) NewAcceptPipeline(loop *reactor.Loop) (*Pipeline, error) {
	return f(loop)
}
