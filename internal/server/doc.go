// Package server implements the HTTP status API of the assistant: health,
// connection and session status, sanitized configuration, Prometheus metrics
// and an on-demand STATUS probe of the peripheral.
package server
