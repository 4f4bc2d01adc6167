package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FullScale is the largest positive 16-bit sample value
const FullScale = math.MaxInt16

// ErrInsufficientAudio means the capture held too little audio to use.
// It is never reported as silence.
var ErrInsufficientAudio = errors.New("insufficient audio captured")

// Options configures Process
type Options struct {
	MinBytes     int     // buffers shorter than this are rejected
	TargetPeak   float64 // fraction of full scale after normalization
	NoSignalPeak int     // peaks below this are flagged as no signal
}

// DefaultOptions returns 300ms minimum, 80% target and a small no-signal floor
func DefaultOptions() Options {
	return Options{
		MinBytes:     SampleRate * BytesPerSample * 300 / 1000,
		TargetPeak:   0.8,
		NoSignalPeak: 64,
	}
}

// Result is the outcome of post-processing one capture
type Result struct {
	Clip        *AudioClip
	InputBytes  int
	DroppedByte bool    // odd trailing byte discarded
	Peak        int     // absolute peak before normalization
	Gain        float64 // 1 when normalization was skipped
	NoSignal    bool
}

// Process validates and conditions a drained capture buffer. A near-zero peak
// is flagged, not rejected.
func Process(buf []byte, opts Options) (*Result, error) {
	if len(buf) < opts.MinBytes {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrInsufficientAudio, len(buf), opts.MinBytes)
	}
	if opts.TargetPeak <= 0 || opts.TargetPeak > 1 {
		return nil, fmt.Errorf("target peak must be in (0, 1], got %f", opts.TargetPeak)
	}

	samples := DecodePCM(buf)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no complete samples", ErrInsufficientAudio)
	}

	peak := Peak(samples)
	normalized, gain := normalize(samples, peak, opts.TargetPeak)

	return &Result{
		Clip:        wrapClip(normalized),
		InputBytes:  len(buf),
		DroppedByte: len(buf)%BytesPerSample != 0,
		Peak:        peak,
		Gain:        gain,
		NoSignal:    peak < opts.NoSignalPeak,
	}, nil
}

// DecodePCM interprets buf as signed 16-bit little-endian samples. An odd
// trailing byte is dropped.
func DecodePCM(buf []byte) []int16 {
	samples := make([]int16, len(buf)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*BytesPerSample:]))
	}
	return samples
}

// Peak returns the largest absolute sample value
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Normalize rescales samples so the peak reaches target of full scale. The
// input is not modified. A silent input is returned unchanged.
func Normalize(samples []int16, target float64) []int16 {
	out, _ := normalize(samples, Peak(samples), target)
	return out
}

func normalize(samples []int16, peak int, target float64) ([]int16, float64) {
	out := make([]int16, len(samples))
	if peak == 0 {
		copy(out, samples)
		return out, 1
	}

	targetAbs := math.Round(target * FullScale)
	gain := targetAbs / float64(peak)
	for i, s := range samples {
		out[i] = clamp(math.Round(float64(s) * gain))
	}
	return out, gain
}

func clamp(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
