package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/audio"
)

// State is the recording state of the session
type State int32

const (
	Idle State = iota
	Recording
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON status output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Device commands sent on start and stop
const (
	commandStart = "START"
	commandStop  = "STOP"
)

var (
	// ErrInsufficientAudio is returned by Stop when too little audio arrived
	ErrInsufficientAudio = audio.ErrInsufficientAudio
	// ErrNotRecording is returned by Stop when no recording is in progress
	ErrNotRecording = errors.New("session is not recording")
	// ErrAlreadyRecording is returned by Start while a recording is in progress
	ErrAlreadyRecording = errors.New("session is already recording")
)

// Commander sends a newline-terminated command to the peripheral
type Commander interface {
	WriteLine(cmd string) error
}

// Options configures a Session
type Options struct {
	GracePeriod    time.Duration // wait after STOP for in-flight frames
	MinBytes       int           // smaller captures are reported as insufficient
	MaxBufferBytes int           // 0 means unbounded
	Logger         *slog.Logger
}

// Snapshot is a consistent copy of the session counters
type Snapshot struct {
	State          State     `json:"state"`
	BytesReceived  uint64    `json:"bytes_received"`
	FramesReceived uint64    `json:"frames_received"`
	BytesDropped   uint64    `json:"bytes_dropped"`
	Buffered       int       `json:"buffered_bytes"`
	StartedAt      time.Time `json:"started_at"`
	LastData       time.Time `json:"last_data"`
}

// Session holds the capture buffer and its recording state
type Session struct {
	cmd    Commander
	opts   Options
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	buf            []byte
	bytesReceived  uint64
	framesReceived uint64
	bytesDropped   uint64
	startedAt      time.Time
	lastData       time.Time
}

// New creates an idle session that sends commands through cmd
func New(cmd Commander, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		cmd:    cmd,
		opts:   opts,
		logger: logger,
	}
}

// SetCommander replaces the command sink, used after a reconnect
func (s *Session) SetCommander(cmd Commander) {
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
}

// Start clears the buffer, enters Recording and sends START. The state is
// switched before the command goes out so the first frames are kept.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	now := time.Now()
	s.state = Recording
	s.buf = nil
	s.bytesReceived = 0
	s.framesReceived = 0
	s.bytesDropped = 0
	s.startedAt = now
	s.lastData = now
	cmd := s.cmd
	s.mu.Unlock()

	if err := cmd.WriteLine(commandStart); err != nil {
		s.mu.Lock()
		s.state = Idle
		s.buf = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to send %s: %w", commandStart, err)
	}

	s.logger.Info("Recording started")
	return nil
}

// Stop sends STOP, waits the grace period and hands the buffer to the caller.
// The session is Idle again when Stop returns.
func (s *Session) Stop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	s.state = Draining
	cmd := s.cmd
	s.mu.Unlock()

	if err := cmd.WriteLine(commandStop); err != nil {
		s.logger.Warn("Failed to send stop command",
			slog.String("error", err.Error()),
		)
	}

	if err := wait(ctx, s.opts.GracePeriod); err != nil {
		s.Cancel()
		return nil, err
	}

	s.mu.Lock()
	if s.state != Draining {
		// cancelled during the grace period
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	data := s.buf
	s.buf = nil
	s.state = Idle
	received := s.bytesReceived
	frames := s.framesReceived
	dropped := s.bytesDropped
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	s.logger.Info("Recording stopped",
		slog.Uint64("bytes_received", received),
		slog.Uint64("frames_received", frames),
		slog.Uint64("bytes_dropped", dropped),
		slog.Duration("elapsed", elapsed),
	)

	if len(data) < s.opts.MinBytes {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrInsufficientAudio, len(data), s.opts.MinBytes)
	}

	return data, nil
}

// Append adds a frame payload to the buffer and reports whether it was
// buffered. Payloads arriving while Idle are dropped. While Draining they are
// kept: the grace period after STOP exists to collect frames the peripheral
// sent before it saw the command.
func (s *Session) Append(p []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		return false
	}

	if s.opts.MaxBufferBytes > 0 && len(s.buf)+len(p) > s.opts.MaxBufferBytes {
		s.bytesDropped += uint64(len(p))
		return false
	}

	s.buf = append(s.buf, p...)
	s.bytesReceived += uint64(len(p))
	s.framesReceived++
	s.lastData = time.Now()

	return true
}

// Cancel forces the session back to Idle and discards the buffer. Frames
// arriving afterwards are dropped by Append.
func (s *Session) Cancel() {
	s.mu.Lock()
	prev := s.state
	s.state = Idle
	s.buf = nil
	cmd := s.cmd
	s.mu.Unlock()

	if prev == Recording {
		if err := cmd.WriteLine(commandStop); err != nil {
			s.logger.Debug("Failed to send stop on cancel", slog.String("error", err.Error()))
		}
	}
	if prev != Idle {
		s.logger.Info("Recording cancelled", slog.String("previous_state", prev.String()))
	}
}

// State returns the current recording state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the session counters under the session lock
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		State:          s.state,
		BytesReceived:  s.bytesReceived,
		FramesReceived: s.framesReceived,
		BytesDropped:   s.bytesDropped,
		Buffered:       len(s.buf),
		StartedAt:      s.startedAt,
		LastData:       s.lastData,
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
