// Package session implements the single recording session that sits between
// the transport reader and the capture controller. The reader appends frame
// payloads; the controller starts, stops and drains. Both go through one mutex.
package session
