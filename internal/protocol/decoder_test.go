package protocol

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
)

func mustEncode(t testing.TB, kind FramingKind, payload []byte) []byte {
	t.Helper()
	b, err := Encode(kind, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return b
}

func collect(d *Decoder) [][]byte {
	var out [][]byte
	for f := range d.Frames() {
		out = append(out, f.Payload)
	}
	return out
}

func TestDecoderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, kind := range []FramingKind{FramingWifi, FramingSerial} {
		t.Run(kind.String(), func(t *testing.T) {
			sizes := []int{0, 1, 2, 255, 256, 4096, MaxPayloadSize}
			var wire []byte
			var payloads [][]byte
			for _, n := range sizes {
				p := make([]byte, n)
				for i := range p {
					p[i] = byte(rng.IntN(256))
				}
				payloads = append(payloads, p)
				wire = append(wire, mustEncode(t, kind, p)...)
			}

			d := NewDecoder(kind, WithStatusLines(false))
			d.Feed(wire)
			got := collect(d)

			if len(got) != len(payloads) {
				t.Fatalf("Expected %d frames, got %d", len(payloads), len(got))
			}
			for i := range payloads {
				if !bytes.Equal(got[i], payloads[i]) {
					t.Errorf("Frame %d payload mismatch (len %d vs %d)", i, len(got[i]), len(payloads[i]))
				}
			}
			if d.Buffered() != 0 {
				t.Errorf("Expected empty window, %d bytes left", d.Buffered())
			}
		})
	}
}

func TestDecoderSkipsLeadingGarbage(t *testing.T) {
	tests := []struct {
		name    string
		kind    FramingKind
		garbage []byte
	}{
		{name: "wifi", kind: FramingWifi, garbage: []byte{0x00, 0x10, 0xFF}},
		{name: "serial", kind: FramingSerial, garbage: []byte{0x00, 0xFF, 0x10, 0xFE}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(tt.kind)
			d.Feed(tt.garbage)
			d.Feed(mustEncode(t, tt.kind, []byte("HELLO")))

			got := collect(d)
			if len(got) != 1 || string(got[0]) != "HELLO" {
				t.Fatalf("Expected single HELLO frame, got %q", got)
			}
			if d.Stats().BytesDiscarded != uint64(len(tt.garbage)) {
				t.Errorf("Expected %d discarded bytes, got %d", len(tt.garbage), d.Stats().BytesDiscarded)
			}
		})
	}
}

func TestDecoderPartialFrame(t *testing.T) {
	wire := mustEncode(t, FramingSerial, []byte{1, 2, 3, 4, 5, 6})

	d := NewDecoder(FramingSerial)
	d.Feed(wire[:2])
	if _, ok := d.Next(); ok {
		t.Fatal("Expected no frame from a bare marker")
	}
	d.Feed(wire[2:7])
	if _, ok := d.Next(); ok {
		t.Fatal("Expected no frame from a truncated payload")
	}
	if d.Buffered() != 7 {
		t.Fatalf("Expected partial frame to stay buffered, got %d bytes", d.Buffered())
	}

	d.Feed(wire[7:])
	f, ok := d.Next()
	if !ok {
		t.Fatal("Expected frame after remaining bytes arrived")
	}
	if !bytes.Equal(f.Payload, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Unexpected payload % x", f.Payload)
	}
}

func TestDecoderReassemblesAcrossReads(t *testing.T) {
	var wire []byte
	for _, n := range []int{100, 250, 4} {
		wire = append(wire, mustEncode(t, FramingWifi, bytes.Repeat([]byte{0x11}, n))...)
	}

	// Every split point must yield the same three frames.
	for split := 0; split <= len(wire); split++ {
		d := NewDecoder(FramingWifi)
		var total []byte
		var frames int

		for _, chunk := range [][]byte{wire[:split], wire[split:]} {
			d.Feed(chunk)
			for f := range d.Frames() {
				frames++
				total = append(total, f.Payload...)
			}
		}

		if frames != 3 || len(total) != 354 {
			t.Fatalf("split %d: expected 3 frames / 354 bytes, got %d / %d", split, frames, len(total))
		}
	}
}

func TestDecoderDiscardsWindowWithoutMarker(t *testing.T) {
	d := NewDecoder(FramingWifi)
	d.Feed(bytes.Repeat([]byte{0x00}, 32))

	if _, ok := d.Next(); ok {
		t.Fatal("Expected no frame from noise")
	}
	if d.Buffered() != 0 {
		t.Errorf("Expected window to be discarded, %d bytes left", d.Buffered())
	}
	if d.Stats().Resyncs == 0 {
		t.Error("Expected resync to be counted")
	}
}

func TestDecoderKeepsSplitSerialMarker(t *testing.T) {
	d := NewDecoder(FramingSerial)
	d.Feed([]byte{0x01, 0x02, 0x03, SerialMarker0})

	if _, ok := d.Next(); ok {
		t.Fatal("Expected no frame yet")
	}
	if d.Buffered() != 1 {
		t.Fatalf("Expected trailing marker byte to be kept, got %d bytes", d.Buffered())
	}

	d.Feed([]byte{SerialMarker1, 0x00, 0x02, 'h', 'i'})
	f, ok := d.Next()
	if !ok || string(f.Payload) != "hi" {
		t.Fatalf("Expected frame \"hi\", got %v %q", ok, f.Payload)
	}
}

func TestDecoderSkipsOversizedLength(t *testing.T) {
	d := NewDecoder(FramingWifi, WithMaxPayload(16))
	d.Feed([]byte{WifiMarker, 0x10, 0x00})
	d.Feed(mustEncode(t, FramingWifi, []byte("ok")))

	got := collect(d)
	if len(got) != 1 || string(got[0]) != "ok" {
		t.Fatalf("Expected single \"ok\" frame, got %q", got)
	}
	if d.Stats().OversizedFrames != 1 {
		t.Errorf("Expected 1 oversized frame, got %d", d.Stats().OversizedFrames)
	}
	if !errors.Is(d.LastSkip(), ErrFrameTooLarge) {
		t.Errorf("Expected LastSkip to wrap ErrFrameTooLarge, got %v", d.LastSkip())
	}

	d.Reset()
	if d.LastSkip() != nil {
		t.Errorf("Expected Reset to clear LastSkip, got %v", d.LastSkip())
	}
}

func TestDecoderStatusLines(t *testing.T) {
	var wire []byte
	wire = append(wire, "MIC READY\n"...)
	wire = append(wire, mustEncode(t, FramingSerial, []byte{0x10, 0x20})...)
	wire = append(wire, "LEVEL 42\r\n"...)
	wire = append(wire, mustEncode(t, FramingSerial, []byte{0x30})...)
	wire = append(wire, 0x01, 0x02, '\n')
	wire = append(wire, mustEncode(t, FramingSerial, []byte{0x40})...)

	d := NewDecoder(FramingSerial)
	d.Feed(wire)
	got := collect(d)

	if len(got) != 3 {
		t.Fatalf("Expected 3 audio frames, got %d", len(got))
	}

	lines := d.Lines()
	want := []string{"MIC READY", "LEVEL 42"}
	if len(lines) != len(want) {
		t.Fatalf("Expected lines %q, got %q", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
	if d.Lines() != nil {
		t.Error("Expected Lines to clear after read")
	}
}

func TestDecoderWifiIgnoresText(t *testing.T) {
	d := NewDecoder(FramingWifi)
	d.Feed([]byte("status ok\n"))
	d.Feed(mustEncode(t, FramingWifi, []byte{0x01}))

	if got := collect(d); len(got) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(got))
	}
	if lines := d.Lines(); lines != nil {
		t.Errorf("Expected no lines for wifi framing, got %q", lines)
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder(FramingWifi)
	d.Feed(mustEncode(t, FramingWifi, []byte("abc"))[:4])
	d.Reset()

	if d.Buffered() != 0 {
		t.Errorf("Expected empty window after reset, got %d", d.Buffered())
	}
	d.Feed(mustEncode(t, FramingWifi, []byte("xyz")))
	f, ok := d.Next()
	if !ok || string(f.Payload) != "xyz" {
		t.Fatalf("Expected clean decode after reset, got %v %q", ok, f.Payload)
	}
}

func FuzzDecoder(f *testing.F) {
	f.Add([]byte{0x00, 0x10, 0xFF, 'A', 0x00, 0x01, 0x42})
	f.Add([]byte{0xFF, 0xFE, 0x00, 0x02, 0x01, 0x02, 'o', 'k', '\n'})
	f.Add([]byte{0xFF, 0xFF, 0xFE, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, kind := range []FramingKind{FramingWifi, FramingSerial} {
			d := NewDecoder(kind, WithMaxPayload(1024))
			d.Feed(data)
			for fr := range d.Frames() {
				if err := fr.Validate(); err != nil {
					t.Fatalf("decoded invalid frame: %v", err)
				}
			}
			if d.Buffered() > len(data) {
				t.Fatalf("window grew beyond input: %d > %d", d.Buffered(), len(data))
			}
		}
	})
}
