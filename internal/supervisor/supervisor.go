package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/audio"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/metrics"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/protocol"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/session"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/transport"
)

// Options configures a Supervisor
type Options struct {
	HandshakeToken   string
	HandshakeTimeout time.Duration // zero skips the handshake
	StaleAfter       time.Duration
	MaxPayload       int // decoder cap on declared frame length
	Audio            audio.Options
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Status is a point-in-time view for the status API
type Status struct {
	State             State                 `json:"state"`
	HandshakeVerified bool                  `json:"handshake_verified"`
	Transport         string                `json:"transport"`
	ConnectedAt       time.Time             `json:"connected_at,omitzero"`
	LastError         string                `json:"last_error,omitempty"`
	LastDeviceLine    string                `json:"last_device_line,omitempty"`
	Capturing         bool                  `json:"capturing"`
	Session           session.Snapshot      `json:"session"`
	Decoder           protocol.DecoderStats `json:"decoder"`
}

// Supervisor owns one transport and the recording session fed from it
type Supervisor struct {
	t       transport.Transport
	sess    *session.Session
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	// decoder, lastStats and wasRecording belong to the goroutine running Connect/Run
	decoder      *protocol.Decoder
	lastStats    protocol.DecoderStats
	wasRecording bool

	mu                sync.RWMutex
	state             State
	handshakeVerified bool
	connectedAt       time.Time
	lastErr           error
	lastDeviceLine    string
	decoderStats      protocol.DecoderStats
	lost              chan struct{} // closed when the connection goes away
	stale             chan struct{} // closed by Watch for the running capture
	staleFor          time.Duration
	capturing         bool
}

// New creates a closed supervisor. Device commands from sess are routed
// through the supervisor so they are refused while disconnected.
func New(t transport.Transport, sess *session.Session, opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = protocol.MaxPayloadSize
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * time.Second
	}

	s := &Supervisor{
		t:       t,
		sess:    sess,
		opts:    opts,
		logger:  logger.With(slog.String("transport", t.String())),
		metrics: opts.Metrics,
		state:   StateClosed,
		lost:    closedChan(),
	}
	sess.SetCommander(commander{s})
	s.metrics.SetConnectionState(string(StateClosed))
	return s
}

// Connect opens the transport and performs the handshake. Open failures are
// returned as *transport.ConnectionError and leave the supervisor Closed. A
// missing ready token is logged and tolerated.
func (s *Supervisor) Connect(ctx context.Context) error {
	if err := s.fire(EventOpen); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := s.t.Open(ctx); err != nil {
		s.metrics.RecordConnectAttempt(false)
		s.fail(err)
		return err
	}
	s.metrics.RecordConnectAttempt(true)

	s.mu.Lock()
	s.lost = make(chan struct{})
	s.lastErr = nil
	s.connectedAt = time.Now()
	s.mu.Unlock()

	if err := s.fire(EventOpened); err != nil {
		return err
	}

	verified, err := s.handshake(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.decoder = protocol.NewDecoder(s.t.Kind(), protocol.WithMaxPayload(s.opts.MaxPayload))
	s.lastStats = protocol.DecoderStats{}
	s.wasRecording = false

	s.mu.Lock()
	s.handshakeVerified = verified
	s.mu.Unlock()

	if err := s.fire(EventReady); err != nil {
		return err
	}

	s.logger.Info("Peripheral connection active",
		slog.Bool("handshake_verified", verified),
	)
	return nil
}

// Run is the reader loop. It polls the transport, decodes frames into the
// session and logs device lines until ctx is done or the connection fails.
// Framing problems never stop the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.RLock()
	err := s.readyLocked()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if s.decoder == nil {
		return ErrNotReady
	}

	s.logger.Info("Reader loop started")
	defer s.logger.Info("Reader loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := s.t.ReadAvailable()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return s.closedErr()
			}
			s.metrics.RecordReadError()
			s.logger.Error("Connection lost", slog.String("error", err.Error()))
			s.fail(err)
			return err
		}
		if len(data) == 0 {
			continue
		}

		s.metrics.RecordBytesRead(len(data))
		s.consume(data)
	}
}

func (s *Supervisor) consume(data []byte) {
	recording := s.sess.State() != session.Idle
	if recording && !s.wasRecording {
		// Each capture starts with an empty window
		s.decoder.Reset()
	}
	s.wasRecording = recording

	// On wifi the marker is a printable 'A', so text between captures would
	// be taken for a frame header. Nothing outside a capture is audio.
	if !recording && s.decoder.Kind() == protocol.FramingWifi {
		s.decoder.Reset()
		s.metrics.RecordDecoder(0, 0, uint64(len(data)), 0, 0, 0)
		s.logger.Debug("Dropped bytes outside capture", slog.Int("bytes", len(data)))
		return
	}

	s.decoder.Feed(data)

	appended := false
	for f := range s.decoder.Frames() {
		ok := s.sess.Append(f.Payload)
		s.metrics.RecordFrame(ok)
		appended = appended || ok
	}

	lines := s.decoder.Lines()
	for _, line := range lines {
		s.logger.Info("Device status", slog.String("device_line", line))
	}

	stats := s.decoder.Stats()
	s.metrics.RecordDecoder(
		stats.FramesDecoded-s.lastStats.FramesDecoded,
		stats.PayloadBytes-s.lastStats.PayloadBytes,
		stats.BytesDiscarded-s.lastStats.BytesDiscarded,
		stats.Resyncs-s.lastStats.Resyncs,
		stats.OversizedFrames-s.lastStats.OversizedFrames,
		stats.StatusLines-s.lastStats.StatusLines,
	)
	if skip := s.decoder.LastSkip(); skip != nil && stats.OversizedFrames > s.lastStats.OversizedFrames {
		s.logger.Debug("Skipped oversized frame header", slog.String("error", skip.Error()))
	}
	if stats.Resyncs > s.lastStats.Resyncs {
		s.logger.Debug("Decoder resynchronized",
			slog.Uint64("bytes_discarded", stats.BytesDiscarded-s.lastStats.BytesDiscarded),
		)
	}
	s.lastStats = stats

	s.mu.Lock()
	s.decoderStats = stats
	if len(lines) > 0 {
		s.lastDeviceLine = lines[len(lines)-1]
	}
	recovered := appended && s.state == StateDegraded
	if recovered {
		recovered = s.fireLocked(EventRecovered) == nil
	}
	s.mu.Unlock()

	if recovered {
		s.logger.Info("Audio data resumed")
	}
}

// Watch flags a capture as stale when no frame arrives within the staleness
// window while recording. It runs until ctx is done.
func (s *Supervisor) Watch(ctx context.Context) error {
	interval := s.opts.StaleAfter / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.checkStale()
		}
	}
}

func (s *Supervisor) checkStale() {
	s.mu.RLock()
	stale := s.stale
	s.mu.RUnlock()
	if stale == nil {
		return
	}

	snap := s.sess.Snapshot()
	if snap.State != session.Recording {
		return
	}
	silence := time.Since(snap.LastData)
	if silence <= s.opts.StaleAfter {
		return
	}

	s.mu.Lock()
	if s.stale != stale {
		s.mu.Unlock()
		return
	}
	close(stale)
	s.stale = nil
	s.staleFor = silence
	if err := s.fireLocked(EventStale); err != nil {
		s.logger.Debug("Stale event ignored", slog.String("error", err.Error()))
	}
	s.mu.Unlock()

	s.logger.Warn("No audio data while recording",
		slog.Duration("silence", silence),
		slog.Uint64("bytes_received", snap.BytesReceived),
	)
}

// Capture records for d and returns the processed clip. It fails with a
// *StaleDataError if frames stop arriving, with the connection error if the
// link drops, or with audio.ErrInsufficientAudio if too little arrived.
func (s *Supervisor) Capture(ctx context.Context, d time.Duration) (*audio.Result, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.capturing {
		s.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	s.capturing = true
	stale := make(chan struct{})
	s.stale = stale
	lost := s.lost
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.capturing = false
		if s.stale == stale {
			s.stale = nil
		}
		s.mu.Unlock()
		s.metrics.SetRecording(false)
	}()

	if err := s.sess.Start(ctx); err != nil {
		s.metrics.RecordCapture("error")
		return nil, err
	}
	s.metrics.SetRecording(true)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.sess.Cancel()
		s.metrics.RecordCapture("cancelled")
		return nil, ctx.Err()
	case <-lost:
		s.sess.Cancel()
		s.metrics.RecordCapture("error")
		return nil, s.closedErr()
	case <-stale:
		snap := s.sess.Snapshot()
		s.sess.Cancel()
		s.metrics.RecordCapture("stale")
		s.mu.RLock()
		silence := s.staleFor
		s.mu.RUnlock()
		return nil, &StaleDataError{Silence: silence, BytesReceived: snap.BytesReceived}
	case <-timer.C:
	}

	data, err := s.sess.Stop(ctx)
	if err != nil {
		select {
		case <-lost:
			s.metrics.RecordCapture("error")
			return nil, s.closedErr()
		default:
		}
		if errors.Is(err, audio.ErrInsufficientAudio) {
			s.metrics.RecordCapture("insufficient")
		} else {
			s.metrics.RecordCapture("error")
		}
		return nil, err
	}

	result, err := audio.Process(data, s.opts.Audio)
	if err != nil {
		if errors.Is(err, audio.ErrInsufficientAudio) {
			s.metrics.RecordCapture("insufficient")
		} else {
			s.metrics.RecordCapture("error")
		}
		return nil, err
	}

	if result.NoSignal {
		s.logger.Warn("Captured audio has no signal",
			slog.String("clip_id", result.Clip.ID()),
			slog.Int("peak", result.Peak),
		)
	}

	s.metrics.RecordClip(result.InputBytes, result.Peak, result.Clip.Duration().Seconds())
	s.metrics.RecordCapture("ok")
	s.logger.Info("Capture complete",
		slog.String("clip_id", result.Clip.ID()),
		slog.Int("bytes", result.InputBytes),
		slog.Int("samples", result.Clip.Len()),
		slog.Int("peak", result.Peak),
		slog.Float64("gain", result.Gain),
	)

	return result, nil
}

// RequestStatus asks the peripheral for a diagnostic line. The reply, if
// any, shows up as a device line.
func (s *Supervisor) RequestStatus() error {
	return commander{s}.WriteLine(transport.CommandStatus)
}

// State returns the connection state
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot for the status API
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		State:             s.state,
		HandshakeVerified: s.handshakeVerified,
		Transport:         s.t.String(),
		ConnectedAt:       s.connectedAt,
		LastDeviceLine:    s.lastDeviceLine,
		Capturing:         s.capturing,
		Decoder:           s.decoderStats,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	st.Session = s.sess.Snapshot()
	return st
}

// Close releases the transport. A new Connect is required afterwards.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	_ = s.fireLocked(EventClose)
	closeOnce(s.lost)
	s.mu.Unlock()

	s.sess.Cancel()
	err := s.t.Close()
	s.logger.Info("Peripheral connection closed")
	return err
}

// fail records err, closes the transport and moves to Closed
func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	_ = s.fireLocked(EventClose)
	closeOnce(s.lost)
	s.mu.Unlock()

	s.sess.Cancel()
	if cerr := s.t.Close(); cerr != nil {
		s.logger.Debug("Error closing transport", slog.String("error", cerr.Error()))
	}
}

func (s *Supervisor) fire(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fireLocked(ev)
}

// fireLocked applies ev through Transition; the state is unchanged on error
func (s *Supervisor) fireLocked(ev Event) error {
	next, err := Transition(s.state, ev)
	if err != nil {
		return err
	}
	s.setStateLocked(next)
	return nil
}

func (s *Supervisor) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("Connection state changed",
		slog.String("from", string(s.state)),
		slog.String("to", string(next)),
	)
	s.state = next
	s.metrics.SetConnectionState(string(next))
}

func (s *Supervisor) readyLocked() error {
	switch {
	case s.state.Connected():
		return nil
	case s.state == StateClosed:
		if s.lastErr != nil {
			return s.lastErr
		}
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// closedErr returns the connection error that closed the link, or ErrClosed
func (s *Supervisor) closedErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	return ErrClosed
}

// commander writes device commands while the connection is up
type commander struct {
	s *Supervisor
}

func (c commander) WriteLine(cmd string) error {
	c.s.mu.RLock()
	err := c.s.readyLocked()
	c.s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.s.t.WriteLine(cmd); err != nil {
		if transport.IsConnectionError(err) {
			c.s.logger.Error("Connection lost on write",
				slog.String("command", cmd),
				slog.String("error", err.Error()),
			)
			c.s.fail(err)
		}
		return err
	}

	c.s.metrics.RecordCommand(cmd)
	c.s.logger.Debug("Command sent", slog.String("command", cmd))
	return nil
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func closeOnce(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}
