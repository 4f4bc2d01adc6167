package audio

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clip format. The peripheral only produces this.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16

	BytesPerSample = BitDepth / 8
)

// AudioClip is an immutable mono 16 kHz 16-bit PCM clip
type AudioClip struct {
	id      uuid.UUID
	samples []int16
}

// NewClip copies samples into a new clip
func NewClip(samples []int16) *AudioClip {
	owned := make([]int16, len(samples))
	copy(owned, samples)
	return wrapClip(owned)
}

// wrapClip takes ownership of samples
func wrapClip(samples []int16) *AudioClip {
	return &AudioClip{id: uuid.New(), samples: samples}
}

// ID identifies the clip in logs and recognizer requests
func (c *AudioClip) ID() string {
	return c.id.String()
}

func (c *AudioClip) SampleRate() int { return SampleRate }
func (c *AudioClip) Channels() int   { return Channels }
func (c *AudioClip) BitDepth() int   { return BitDepth }

// Len returns the number of samples
func (c *AudioClip) Len() int {
	return len(c.samples)
}

// Samples returns a copy of the clip's samples
func (c *AudioClip) Samples() []int16 {
	out := make([]int16, len(c.samples))
	copy(out, c.samples)
	return out
}

// Duration returns the playback length of the clip
func (c *AudioClip) Duration() time.Duration {
	return time.Duration(len(c.samples)) * time.Second / SampleRate
}

// PCM returns the samples as little-endian bytes
func (c *AudioClip) PCM() []byte {
	out := make([]byte, len(c.samples)*BytesPerSample)
	for i, s := range c.samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

func (c *AudioClip) String() string {
	return fmt.Sprintf("AudioClip{ID:%s, Samples:%d, Duration:%v}", c.ID(), len(c.samples), c.Duration())
}
