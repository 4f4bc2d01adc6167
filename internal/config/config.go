package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete assistant configuration
type Config struct {
	Transport  TransportConfig  `yaml:"transport"`
	Handshake  HandshakeConfig  `yaml:"handshake"`
	Session    SessionConfig    `yaml:"session"`
	Audio      AudioConfig      `yaml:"audio"`
	Capture    CaptureConfig    `yaml:"capture"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// TransportConfig selects and configures the link to the peripheral
type TransportConfig struct {
	Kind           string `yaml:"kind"` // wifi | serial
	ListenAddress  string `yaml:"listen_address"`
	Port           int    `yaml:"port"`
	SerialDevice   string `yaml:"serial_device"`
	BaudRate       int    `yaml:"baud_rate"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
	BootDelayMs    int    `yaml:"boot_delay_ms"`
}

// HandshakeConfig contains the peripheral identification check
type HandshakeConfig struct {
	Token     string `yaml:"token"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// SessionConfig contains recording session and decoder limits
type SessionConfig struct {
	GracePeriodMs   int `yaml:"grace_period_ms"`
	MinAudioMs      int `yaml:"min_audio_ms"`
	StaleAfterMs    int `yaml:"stale_after_ms"`
	MaxPartialFrame int `yaml:"max_partial_frame"` // largest payload the decoder waits for
	MaxBufferBytes  int `yaml:"max_buffer_bytes"`
}

// AudioConfig contains clip format and conditioning parameters
type AudioConfig struct {
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
	BitDepth     int     `yaml:"bit_depth"`
	TargetPeak   float64 `yaml:"target_peak"`    // fraction of full scale
	NoSignalPeak int     `yaml:"no_signal_peak"` // absolute sample value
}

// CaptureConfig contains the caller loop policy
type CaptureConfig struct {
	DurationMs             int `yaml:"duration_ms"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// RecognizerConfig contains speech recognizer API configuration
type RecognizerConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Language   string `yaml:"language"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// ReconnectConfig contains the caller's backoff between connection attempts
type ReconnectConfig struct {
	InitialIntervalMs int `yaml:"initial_interval_ms"`
	MaxIntervalMs     int `yaml:"max_interval_ms"`
	MaxElapsedMs      int `yaml:"max_elapsed_ms"` // 0 retries forever
}

// HTTPConfig contains HTTP status server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a field is absent from the file
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:           "wifi",
			ListenAddress:  "0.0.0.0",
			Port:           5555,
			SerialDevice:   "/dev/ttyACM0",
			BaudRate:       115200,
			ReadTimeoutMs:  100,
			ReadBufferSize: 4096,
			BootDelayMs:    2000,
		},
		Handshake: HandshakeConfig{
			Token:     "READY",
			TimeoutMs: 5000,
		},
		Session: SessionConfig{
			GracePeriodMs:   200,
			MinAudioMs:      300,
			StaleAfterMs:    3000,
			MaxPartialFrame: 4096,
			MaxBufferBytes:  10 << 20,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			Channels:     1,
			BitDepth:     16,
			TargetPeak:   0.8,
			NoSignalPeak: 64,
		},
		Capture: CaptureConfig{
			DurationMs:             4000,
			MaxConsecutiveFailures: 5,
		},
		Recognizer: RecognizerConfig{
			Endpoint:   "http://localhost:8080/recognize",
			Language:   "pt-BR",
			Timeout:    10,
			MaxRetries: 2,
		},
		Reconnect: ReconnectConfig{
			InitialIntervalMs: 500,
			MaxIntervalMs:     10000,
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Handshake.Validate(); err != nil {
		return fmt.Errorf("handshake config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	switch strings.ToLower(t.Kind) {
	case "wifi", "socket", "tcp":
		if t.Port < 1 || t.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", t.Port)
		}
	case "serial":
		if t.SerialDevice == "" {
			return fmt.Errorf("serial_device cannot be empty for serial transport")
		}
		if t.BaudRate < 1 {
			return fmt.Errorf("baud_rate must be positive, got %d", t.BaudRate)
		}
	default:
		return fmt.Errorf("kind must be 'wifi' or 'serial', got '%s'", t.Kind)
	}

	if t.ReadTimeoutMs < 1 || t.ReadTimeoutMs > 1000 {
		return fmt.Errorf("read_timeout_ms must be between 1 and 1000, got %d", t.ReadTimeoutMs)
	}

	if t.ReadBufferSize < 64 {
		return fmt.Errorf("read_buffer_size must be at least 64 bytes, got %d", t.ReadBufferSize)
	}

	if t.BootDelayMs < 0 {
		return fmt.Errorf("boot_delay_ms cannot be negative, got %d", t.BootDelayMs)
	}

	return nil
}

// Validate validates handshake configuration
func (h *HandshakeConfig) Validate() error {
	if h.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms cannot be negative, got %d", h.TimeoutMs)
	}
	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.GracePeriodMs < 0 {
		return fmt.Errorf("grace_period_ms cannot be negative, got %d", s.GracePeriodMs)
	}

	if s.MinAudioMs < 1 {
		return fmt.Errorf("min_audio_ms must be positive, got %d", s.MinAudioMs)
	}

	if s.StaleAfterMs < 100 {
		return fmt.Errorf("stale_after_ms must be at least 100, got %d", s.StaleAfterMs)
	}

	if s.MaxPartialFrame < 1 || s.MaxPartialFrame > 0xFFFF {
		return fmt.Errorf("max_partial_frame must be between 1 and 65535, got %d", s.MaxPartialFrame)
	}

	if s.MaxBufferBytes < s.MaxPartialFrame {
		return fmt.Errorf("max_buffer_bytes (%d) must be at least max_partial_frame (%d)",
			s.MaxBufferBytes, s.MaxPartialFrame)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.TargetPeak <= 0 || a.TargetPeak > 1 {
		return fmt.Errorf("target_peak must be in (0, 1], got %f", a.TargetPeak)
	}

	if a.NoSignalPeak < 0 || a.NoSignalPeak > 32767 {
		return fmt.Errorf("no_signal_peak must be between 0 and 32767, got %d", a.NoSignalPeak)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.DurationMs < 100 {
		return fmt.Errorf("duration_ms must be at least 100, got %d", c.DurationMs)
	}

	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1, got %d", c.MaxConsecutiveFailures)
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	return nil
}

// Validate validates reconnect configuration
func (r *ReconnectConfig) Validate() error {
	if r.InitialIntervalMs < 1 {
		return fmt.Errorf("initial_interval_ms must be positive, got %d", r.InitialIntervalMs)
	}

	if r.MaxIntervalMs < r.InitialIntervalMs {
		return fmt.Errorf("max_interval_ms (%d) must be at least initial_interval_ms (%d)",
			r.MaxIntervalMs, r.InitialIntervalMs)
	}

	if r.MaxElapsedMs < 0 {
		return fmt.Errorf("max_elapsed_ms cannot be negative, got %d", r.MaxElapsedMs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Any other output value is treated as a file path.
	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetReadTimeout returns the transport poll interval
func (t *TransportConfig) GetReadTimeout() time.Duration {
	return millis(t.ReadTimeoutMs)
}

// GetBootDelay returns how long to wait after opening the serial device
func (t *TransportConfig) GetBootDelay() time.Duration {
	return millis(t.BootDelayMs)
}

// GetTimeoutDuration returns the handshake timeout
func (h *HandshakeConfig) GetTimeoutDuration() time.Duration {
	return millis(h.TimeoutMs)
}

// GetGracePeriod returns the delay between STOP and draining the buffer
func (s *SessionConfig) GetGracePeriod() time.Duration {
	return millis(s.GracePeriodMs)
}

// GetMinAudioDuration returns the shortest capture accepted as audio
func (s *SessionConfig) GetMinAudioDuration() time.Duration {
	return millis(s.MinAudioMs)
}

// GetStaleAfter returns the staleness window during recording
func (s *SessionConfig) GetStaleAfter() time.Duration {
	return millis(s.StaleAfterMs)
}

// MinAudioBytes converts a duration into a PCM byte count for this format
func (a *AudioConfig) MinAudioBytes(d time.Duration) int {
	bytesPerSecond := a.SampleRate * a.Channels * a.BitDepth / 8
	return int(d * time.Duration(bytesPerSecond) / time.Second)
}

// GetDuration returns the fixed capture length
func (c *CaptureConfig) GetDuration() time.Duration {
	return millis(c.DurationMs)
}

// GetTimeoutDuration returns the recognizer timeout as a time.Duration
func (r *RecognizerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetInitialInterval returns the first reconnect delay
func (r *ReconnectConfig) GetInitialInterval() time.Duration {
	return millis(r.InitialIntervalMs)
}

// GetMaxInterval returns the largest reconnect delay
func (r *ReconnectConfig) GetMaxInterval() time.Duration {
	return millis(r.MaxIntervalMs)
}

// GetMaxElapsed returns the total reconnect budget; zero means unbounded
func (r *ReconnectConfig) GetMaxElapsed() time.Duration {
	return millis(r.MaxElapsedMs)
}
