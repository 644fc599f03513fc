// File: server/options.go
// Package server defines functional options for the Bootstrap.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-pipeline/acceptor"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pipeline"
)

// Option customizes bootstrap initialization.
type Option func(*Bootstrap)

// WithAcceptPipeline installs a custom accept-pipeline factory.
func WithAcceptPipeline(f pipeline.AcceptFactory) Option {
	return func(b *Bootstrap) {
		b.acceptFactory = f
	}
}

// WithChildPipeline installs the child-pipeline factory for accepted
// connections.
func WithChildPipeline(f pipeline.Factory) Option {
	return func(b *Bootstrap) {
		b.childFactory = f
	}
}

// WithAcceptDecorator installs the secure-transport negotiation step run
// on every accepted socket.
func WithAcceptDecorator(d acceptor.AcceptDecorator) Option {
	return func(b *Bootstrap) {
		b.decorator = d
	}
}

// WithStats installs the stats sink.
func WithStats(s api.StatsSink) Option {
	return func(b *Bootstrap) {
		b.stats = s
	}
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(b *Bootstrap) {
		b.clk = c
	}
}
