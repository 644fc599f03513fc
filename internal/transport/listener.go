// File: internal/transport/listener.go
// Package transport implements listener construction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// Listener couples a net.Listener with a stable id used by accept-path
// events and worker-pool bookkeeping.
type Listener struct {
	ID string
	net.Listener
}

// NewListener binds addr with the requested backlog and platform socket
// options applied.
func NewListener(addr string, backlog int) (*Listener, error) {
	ln, err := listenStream(addr, backlog)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ID: uuid.NewString(), Listener: ln}, nil
}

// NewPacketListener binds a datagram socket on addr.
func NewPacketListener(addr string) (net.PacketConn, string, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return pc, uuid.NewString(), nil
}
