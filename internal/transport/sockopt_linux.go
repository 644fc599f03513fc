//go:build linux
// +build linux

// File: internal/transport/sockopt_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux stream listener built directly on x/sys so the accept backlog and
// listen-time socket options are under our control rather than the
// runtime's defaults.

package transport

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func listenStream(addr string, backlog int) (net.Listener, error) {
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	// Dual-stack: accept v4-mapped peers on the v6 socket.
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt IPV6_V6ONLY: %w", err)
	}

	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	if ip := tcpAddr.IP.To16(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "listener")
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return ln, nil
}

// SetAcceptedSockopts applies per-connection options to an accepted TCP
// socket.
func SetAcceptedSockopts(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var soErr error
	err = raw.Control(func(fd uintptr) {
		soErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		if soErr == nil {
			soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		}
	})
	if err != nil {
		return err
	}
	return soErr
}
