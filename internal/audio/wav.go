package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the size of the canonical PCM WAV header
const WAVHeaderSize = 44

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a WAV payload
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// EncodeWAV packages a clip as an in-memory WAV file
func EncodeWAV(clip *AudioClip) ([]byte, error) {
	if clip == nil || clip.Len() == 0 {
		return nil, fmt.Errorf("cannot encode empty audio clip")
	}

	dataSize := uint32(clip.Len() * BytesPerSample)
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     WAVHeaderSize - 8 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BytesPerSample,
		BlockAlign:    Channels * BytesPerSample,
		BitsPerSample: BitDepth,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, clip.samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV reads a mono 16 kHz 16-bit PCM WAV file back into a clip
func DecodeWAV(data []byte) (*AudioClip, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != BitDepth {
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels != Channels {
		return nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}
	if header.SampleRate != SampleRate {
		return nil, fmt.Errorf("unsupported sample rate: %d (only %d Hz is supported)", header.SampleRate, SampleRate)
	}

	numSamples := int(header.Subchunk2Size) / BytesPerSample
	if numSamples <= 0 {
		return nil, fmt.Errorf("no audio data found")
	}
	if len(data)-WAVHeaderSize < numSamples*BytesPerSample {
		return nil, fmt.Errorf("WAV data truncated: header declares %d bytes, got %d",
			header.Subchunk2Size, len(data)-WAVHeaderSize)
	}

	return wrapClip(DecodePCM(data[WAVHeaderSize : WAVHeaderSize+numSamples*BytesPerSample])), nil
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	if header.SampleRate == 0 || header.BitsPerSample < 8 {
		return nil, fmt.Errorf("invalid WAV format: rate=%d bits=%d", header.SampleRate, header.BitsPerSample)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

func readHeader(data []byte) (*WAVHeader, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return &header, nil
}
