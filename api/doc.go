// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api declares the contracts shared by every layer of
// hioload-pipeline: the transport abstraction, accept-path events, the
// error taxonomy, loop-resolved futures, and the stats sink consumed by
// acceptors and broadcast pools. Implementations live in reactor/,
// pipeline/, acceptor/, broadcast/ and internal/transport/.
package api
