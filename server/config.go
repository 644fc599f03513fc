// File: server/config.go
// Package server holds bootstrap configuration.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "time"

// Config holds all bootstrap-time parameters.
type Config struct {
	Loops           int           // reactor loop count, 0 = NumCPU
	QueueSize       int           // per-loop task queue capacity
	Backlog         int           // listen(2) backlog, 0 = SOMAXCONN
	IdleTimeout     time.Duration // per-connection idle deadline, 0 = off
	ShutdownTimeout time.Duration // grace between close-when-idle and drop
	ReadBufSize     int           // transport read buffer size
	TLSConfig       any           // opaque secure-transport blob; stored only, the bootstrap never reads it
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Loops:           0,
		QueueSize:       1024,
		Backlog:         0,
		IdleTimeout:     0,
		ShutdownTimeout: 5 * time.Second,
		ReadBufSize:     64 * 1024,
	}
}
