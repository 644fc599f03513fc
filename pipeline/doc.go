// File: pipeline/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pipeline implements the ordered handler chain threading transport
// events to application code. A Pipeline is created when a transport
// appears, mutated only on its owning reactor loop, and destroyed through
// its manager's DeletePipeline funnel or by EOF/error propagating through
// the chain.
package pipeline
