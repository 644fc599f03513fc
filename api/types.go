// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import (
	"net"
	"time"
)

// SecureTransportKind reports the negotiated secure-transport result of an
// accepted socket. The handshake itself happens outside the core; only the
// outcome flows through.
type SecureTransportKind int

const (
	SecureNone SecureTransportKind = iota
	SecureTLS
	SecureCustom
)

func (k SecureTransportKind) String() string {
	switch k {
	case SecureTLS:
		return "tls"
	case SecureCustom:
		return "custom"
	default:
		return "none"
	}
}

// TransportInfo carries per-connection metadata captured at accept time.
type TransportInfo struct {
	ConnID       string
	LocalAddr    net.Addr
	RemoteAddr   net.Addr
	SecureKind   SecureTransportKind
	NextProtocol string // negotiated application protocol, e.g. via ALPN
	AcceptTime   time.Time
}
