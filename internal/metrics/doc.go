// Package metrics exposes Prometheus metrics for the transport, decoder,
// recording session, capture results, recognizer calls and HTTP API.
package metrics
