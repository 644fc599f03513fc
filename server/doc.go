// File: server/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package server is the bootstrap surface: it binds listening sockets,
// hands them to the worker pool, and exposes the stop path that drains
// outstanding connections before the loop group goes down.
package server
