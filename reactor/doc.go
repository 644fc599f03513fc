// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor implements single-goroutine cooperative event loops and
// the loop group that hosts them. Every per-connection structure in the
// framework (acceptor, pipeline, broadcast entry) is pinned to exactly one
// Loop and mutated only from tasks running on it; the Group's observer
// registry is the only cross-goroutine surface.
package reactor
