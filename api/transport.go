// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the transport abstraction for an accepted byte-stream socket
// bound to one reactor loop. A Transport is owned exclusively by its
// pipeline and destroyed on pipeline teardown.

package api

import "net"

// Transport abstracts an accepted full-duplex connection.
type Transport interface {
	// Write writes buffer contents into the connection.
	Write(p []byte) (n int, err error)

	// Close shuts down the connection. Idempotent.
	Close() error

	// LocalAddr returns the bound local address.
	LocalAddr() net.Addr

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// Info returns accept-time metadata for this connection.
	Info() *TransportInfo
}
