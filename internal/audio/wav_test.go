package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sineClip(seconds float64, frequency float64, amplitude float64) *AudioClip {
	numSamples := int(float64(SampleRate) * seconds)
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(SampleRate)
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return NewClip(samples)
}

func TestEncodeWAV(t *testing.T) {
	clip := sineClip(0.1, 440, 16383)

	wavData, err := EncodeWAV(clip)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := WAVHeaderSize + clip.Len()*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []int16{100, -200, 300, -400, 500, math.MinInt16, math.MaxInt16}

	wavData, err := EncodeWAV(NewClip(original))
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	clip, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	decoded := clip.Samples()
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	if _, err := EncodeWAV(NewClip(nil)); err == nil {
		t.Error("Expected error for empty clip")
	}
	if _, err := EncodeWAV(nil); err == nil {
		t.Error("Expected error for nil clip")
	}
}

func TestDecodeWAVRejects(t *testing.T) {
	valid, err := EncodeWAV(NewClip([]int16{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name:   "too short",
			mutate: func(b []byte) []byte { return b[:10] },
		},
		{
			name: "bad riff",
			mutate: func(b []byte) []byte {
				copy(b[0:4], "FAKE")
				return b
			},
		},
		{
			name: "wrong sample rate",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[24:28], 8000)
				return b
			},
		},
		{
			name: "stereo",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[22:24], 2)
				return b
			},
		},
		{
			name:   "truncated data",
			mutate: func(b []byte) []byte { return b[:len(b)-2] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), valid...))
			if _, err := DecodeWAV(data); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}
