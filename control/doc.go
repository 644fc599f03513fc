// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control provides the runtime control surface: the settings
// store whose reload listeners re-apply changed values to live components,
// and the Prometheus-backed metrics registry that serves as the
// framework's stats sink.
package control
