// Package transport opens the byte-oriented link to the microphone peripheral:
// a TCP listener that accepts exactly one peer, or a serial device. Transports
// never interpret the bytes they carry.
package transport
