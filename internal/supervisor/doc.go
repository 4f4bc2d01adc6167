// Package supervisor owns the connection to the peripheral. It opens the
// transport, waits for the ready token, runs the reader loop that feeds the
// frame decoder and the recording session, watches for stalled recordings
// and drives fixed-length captures.
package supervisor
