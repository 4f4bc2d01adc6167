package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLineLength bounds a pending serial status line
const DefaultMaxLineLength = 256

// DecoderStats represents decoder statistics for monitoring
type DecoderStats struct {
	FramesDecoded   uint64 `json:"frames_decoded"`
	PayloadBytes    uint64 `json:"payload_bytes"`
	BytesDiscarded  uint64 `json:"bytes_discarded"`
	Resyncs         uint64 `json:"resyncs"`
	OversizedFrames uint64 `json:"oversized_frames"`
	StatusLines     uint64 `json:"status_lines"`
}

// DecoderOption customizes a Decoder
type DecoderOption func(*Decoder)

// WithMaxPayload caps the payload length the decoder is willing to wait for.
// A header declaring more is treated as a false marker and skipped.
func WithMaxPayload(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 && n <= MaxPayloadSize {
			d.maxPayload = n
		}
	}
}

// WithStatusLines toggles extraction of newline-terminated text from the bytes
// skipped during resynchronization.
func WithStatusLines(enabled bool) DecoderOption {
	return func(d *Decoder) {
		d.statusLines = enabled
	}
}

// Decoder turns an accumulating byte window into frames. It is not safe for
// concurrent use; the reader loop owns it.
type Decoder struct {
	kind        FramingKind
	marker      []byte
	header      int
	maxPayload  int
	statusLines bool

	// window is buf[start:]
	buf   []byte
	start int

	line         []byte
	lineOverflow bool
	lines        []string

	stats    DecoderStats
	lastSkip error
}

// NewDecoder creates a decoder for the given framing. Serial framing extracts
// status lines by default.
func NewDecoder(kind FramingKind, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		kind:        kind,
		marker:      kind.Marker(),
		header:      kind.HeaderSize(),
		maxPayload:  MaxPayloadSize,
		statusLines: kind == FramingSerial,
		buf:         make([]byte, 0, 4096),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Kind returns the framing this decoder recognizes
func (d *Decoder) Kind() FramingKind {
	return d.kind
}

// Feed appends raw transport bytes to the window
func (d *Decoder) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	if d.start > 0 && d.start >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}
	d.buf = append(d.buf, data...)
}

// Buffered returns the number of bytes waiting in the window
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

// Next extracts the next complete frame. It returns false when the window
// holds no complete frame; the partial bytes stay buffered for the next Feed.
func (d *Decoder) Next() (Frame, bool) {
	for {
		w := d.buf[d.start:]
		if len(w) < d.header {
			return Frame{}, false
		}

		if !bytes.HasPrefix(w, d.marker) {
			d.resync(w)
			continue
		}

		n := int(binary.BigEndian.Uint16(w[len(d.marker):d.header]))
		if n > d.maxPayload {
			// Either a marker byte inside noise or a peer declaring more than we
			// will buffer. Step over it and look for the next marker.
			d.stats.OversizedFrames++
			d.lastSkip = fmt.Errorf("%w: header declares %d bytes, limit %d", ErrFrameTooLarge, n, d.maxPayload)
			d.discard(w[:1])
			continue
		}

		if len(w) < d.header+n {
			return Frame{}, false
		}

		payload := make([]byte, n)
		copy(payload, w[d.header:d.header+n])
		d.advance(d.header + n)

		d.stats.FramesDecoded++
		d.stats.PayloadBytes += uint64(n)

		return Frame{Kind: d.kind, PayloadLength: uint16(n), Payload: payload}, true
	}
}

// Frames yields every complete frame currently in the window
func (d *Decoder) Frames() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for {
			f, ok := d.Next()
			if !ok || !yield(f) {
				return
			}
		}
	}
}

// Lines returns and clears the status lines collected so far
func (d *Decoder) Lines() []string {
	if len(d.lines) == 0 {
		return nil
	}
	lines := d.lines
	d.lines = nil
	return lines
}

// LastSkip returns the most recent oversized-header error, wrapping
// ErrFrameTooLarge, or nil. Such headers are skipped, never returned by Next.
func (d *Decoder) LastSkip() error {
	return d.lastSkip
}

// Reset drops all buffered bytes and pending lines. Statistics are kept.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.start = 0
	d.line = d.line[:0]
	d.lineOverflow = false
	d.lines = nil
	d.lastSkip = nil
}

// Stats returns a snapshot of decoder statistics
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// resync discards everything before the next marker. If no marker is present
// the whole window goes, except a trailing prefix of a multi-byte marker.
func (d *Decoder) resync(w []byte) {
	d.stats.Resyncs++

	if idx := bytes.Index(w, d.marker); idx > 0 {
		d.discard(w[:idx])
		return
	}

	keep := partialMarkerSuffix(w, d.marker)
	d.discard(w[:len(w)-keep])
}

func (d *Decoder) discard(seg []byte) {
	if d.statusLines {
		d.collectText(seg)
	}
	d.stats.BytesDiscarded += uint64(len(seg))
	d.advance(len(seg))
}

func (d *Decoder) advance(n int) {
	d.start += n
	if d.start >= len(d.buf) {
		d.buf = d.buf[:0]
		d.start = 0
	}
}

func (d *Decoder) collectText(seg []byte) {
	for _, b := range seg {
		if b != '\n' {
			if len(d.line) < DefaultMaxLineLength {
				d.line = append(d.line, b)
			} else {
				d.lineOverflow = true
			}
			continue
		}

		if !d.lineOverflow {
			if line, ok := statusLine(d.line, d.marker[0]); ok {
				d.lines = append(d.lines, line)
				d.stats.StatusLines++
			}
		}
		d.line = d.line[:0]
		d.lineOverflow = false
	}
}

// statusLine accepts printable text that does not start with the marker byte
func statusLine(raw []byte, markerByte byte) (string, bool) {
	if len(raw) > 0 && raw[0] == markerByte {
		return "", false
	}
	if !utf8.Valid(raw) {
		return "", false
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return "", false
	}
	for _, r := range line {
		if !unicode.IsPrint(r) {
			return "", false
		}
	}
	return line, true
}

func partialMarkerSuffix(w, marker []byte) int {
	for k := len(marker) - 1; k > 0; k-- {
		if bytes.HasSuffix(w, marker[:k]) {
			return k
		}
	}
	return 0
}
