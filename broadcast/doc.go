// File: broadcast/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package broadcast multiplexes many downstream subscribers onto a single
// upstream connection per routing key. Each Pool is pinned to one reactor
// loop and coalesces concurrent connect requests for the same key: the
// first miss starts the connect, later callers queue as waiters, and all
// waiters resolve FIFO with the same handler or the same error. A Ready
// entry left without subscribers is evicted by the post-fulfilment sweep.
package broadcast
