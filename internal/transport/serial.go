package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/protocol"
)

// SerialOptions configures a SerialTransport
type SerialOptions struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
	BufferSize  int
	BootDelay   time.Duration // the board resets when the port opens
}

// SerialTransport talks to the peripheral over a serial device
type SerialTransport struct {
	opts   SerialOptions
	logger *slog.Logger

	openPort func(name string, mode *serial.Mode) (serial.Port, error)

	mu     sync.Mutex
	port   serial.Port
	buf    []byte
	closed bool
}

// NewSerial creates a serial transport. The device is not opened until Open.
func NewSerial(opts SerialOptions, logger *slog.Logger) *SerialTransport {
	opts.ReadTimeout, opts.BufferSize = withDefaults(opts.ReadTimeout, opts.BufferSize)
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	return &SerialTransport{
		opts:     opts,
		logger:   orDiscard(logger),
		openPort: serial.Open,
		buf:      make([]byte, opts.BufferSize),
	}
}

// Open opens the device, waits for the board to boot and drops whatever it
// printed meanwhile. The port is closed again on every failure path.
func (s *SerialTransport) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.port != nil {
		s.mu.Unlock()
		return &ConnectionError{Op: "open", Addr: s.opts.Device, Err: errors.New("already open")}
	}
	s.mu.Unlock()

	port, err := s.openPort(s.opts.Device, &serial.Mode{
		BaudRate: s.opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return &ConnectionError{Op: "open", Addr: s.opts.Device, Err: err}
	}

	fail := func(op string, err error) error {
		port.Close()
		return &ConnectionError{Op: op, Addr: s.opts.Device, Err: err}
	}

	if err := port.SetReadTimeout(s.opts.ReadTimeout); err != nil {
		return fail("configure", err)
	}

	s.logger.Info("Serial port opened, waiting for board boot",
		slog.String("device", s.opts.Device),
		slog.Int("baud_rate", s.opts.BaudRate),
		slog.Duration("boot_delay", s.opts.BootDelay),
	)

	if err := sleepCtx(ctx, s.opts.BootDelay); err != nil {
		return fail("open", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return fail("reset", err)
	}

	s.mu.Lock()
	s.port = port
	s.closed = false
	s.mu.Unlock()

	return nil
}

// ReadAvailable reads whatever arrives within one poll interval
func (s *SerialTransport) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, ErrClosed
	}

	n, err := port.Read(s.buf)
	if err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, &ConnectionError{Op: "read", Addr: s.opts.Device, Err: err}
	}
	if n == 0 {
		// read timeout
		return nil, nil
	}

	data := make([]byte, n)
	copy(data, s.buf[:n])
	return data, nil
}

// WriteLine sends cmd followed by a newline
func (s *SerialTransport) WriteLine(cmd string) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrClosed
	}

	if _, err := port.Write([]byte(cmd + "\n")); err != nil {
		return &ConnectionError{Op: "write", Addr: s.opts.Device, Err: err}
	}
	return nil
}

// Close releases the device
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Kind returns the framing used over serial
func (s *SerialTransport) Kind() protocol.FramingKind {
	return protocol.FramingSerial
}

func (s *SerialTransport) String() string {
	return "serial " + s.opts.Device
}
