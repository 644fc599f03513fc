// File: acceptor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package acceptor turns accepted transports into child pipelines on one
// reactor loop and tracks the resulting connections. The WorkerPool mirrors
// the bound listener set across one Acceptor per loop and dispatches
// accepted sockets to them.
package acceptor
