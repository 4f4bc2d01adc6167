package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// FramingKind selects the marker scheme used on the wire
type FramingKind uint8

const (
	// FramingWifi is used over the TCP socket: 'A' + length(2) + payload
	FramingWifi FramingKind = iota + 1
	// FramingSerial is used over the serial link: 0xFF 0xFE + length(2) + payload
	FramingSerial
)

// Wire constants
const (
	WifiMarker    = 'A'
	SerialMarker0 = 0xFF
	SerialMarker1 = 0xFE

	LengthSize     = 2      // big-endian payload length
	MaxPayloadSize = 0xFFFF // largest payload a 2-byte length can declare
)

var (
	wifiMarker   = []byte{WifiMarker}
	serialMarker = []byte{SerialMarker0, SerialMarker1}
)

var (
	// ErrFrameTooLarge is reported when a declared payload exceeds the decoder cap
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrPayloadTooLarge is returned by Encode for payloads that cannot be length-prefixed
	ErrPayloadTooLarge = errors.New("payload exceeds 65535 bytes")
	// ErrLengthMismatch flags a Frame whose PayloadLength disagrees with its payload
	ErrLengthMismatch = errors.New("payload length mismatch")
)

// Frame represents one decoded protocol unit
type Frame struct {
	Kind          FramingKind
	PayloadLength uint16
	Payload       []byte // raw PCM sample bytes, never text
}

// ParseFramingKind maps a configuration value to a FramingKind
func ParseFramingKind(s string) (FramingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wifi", "socket", "tcp":
		return FramingWifi, nil
	case "serial":
		return FramingSerial, nil
	default:
		return 0, fmt.Errorf("unknown framing kind %q", s)
	}
}

// Marker returns the marker byte sequence for this framing
func (k FramingKind) Marker() []byte {
	switch k {
	case FramingWifi:
		return wifiMarker
	case FramingSerial:
		return serialMarker
	default:
		return nil
	}
}

// HeaderSize returns marker width plus the length field
func (k FramingKind) HeaderSize() int {
	return len(k.Marker()) + LengthSize
}

// Valid reports whether k is a known framing
func (k FramingKind) Valid() bool {
	return k == FramingWifi || k == FramingSerial
}

// String returns a human-readable representation of the framing kind
func (k FramingKind) String() string {
	switch k {
	case FramingWifi:
		return "wifi"
	case FramingSerial:
		return "serial"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(k))
	}
}

// Validate checks the frame invariant PayloadLength == len(Payload)
func (f Frame) Validate() error {
	if !f.Kind.Valid() {
		return fmt.Errorf("invalid framing kind: %s", f.Kind)
	}
	if int(f.PayloadLength) != len(f.Payload) {
		return fmt.Errorf("%w: header says %d bytes, got %d", ErrLengthMismatch, f.PayloadLength, len(f.Payload))
	}
	return nil
}

// Size returns the total number of bytes the frame occupies on the wire
func (f Frame) Size() int {
	return f.Kind.HeaderSize() + int(f.PayloadLength)
}

// String returns a human-readable representation of the frame
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Kind:%s, Len:%d}", f.Kind, f.PayloadLength)
}

// Encode builds the wire representation of payload for the given framing
func Encode(kind FramingKind, payload []byte) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid framing kind: %s", kind)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: got %d", ErrPayloadTooLarge, len(payload))
	}

	marker := kind.Marker()
	buf := make([]byte, kind.HeaderSize()+len(payload))
	copy(buf, marker)
	binary.BigEndian.PutUint16(buf[len(marker):], uint16(len(payload)))
	copy(buf[kind.HeaderSize():], payload)

	return buf, nil
}

// EncodeFrame is Encode for an already-built Frame
func EncodeFrame(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return Encode(f.Kind, f.Payload)
}
