package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/config"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/protocol"
)

// Device commands, written as newline-terminated text
const (
	CommandStart  = "START"
	CommandStop   = "STOP"
	CommandStatus = "STATUS"
)

// ErrClosed is returned by operations on a transport that is not open
var ErrClosed = errors.New("transport closed")

// Transport is a duplex byte link to the peripheral. ReadAvailable waits at
// most one poll interval and returns (nil, nil) when nothing arrived; a
// non-nil error is terminal for the current connection.
type Transport interface {
	Open(ctx context.Context) error
	ReadAvailable() ([]byte, error)
	WriteLine(cmd string) error
	Close() error
	Kind() protocol.FramingKind
	String() string
}

// ConnectionError reports a failure to open or use the link
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err carries a *ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// New builds the transport selected by the configuration
func New(cfg *config.TransportConfig, logger *slog.Logger) (Transport, error) {
	kind, err := protocol.ParseFramingKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case protocol.FramingWifi:
		return NewSocket(SocketOptions{
			Address:     net.JoinHostPort(cfg.ListenAddress, fmt.Sprint(cfg.Port)),
			ReadTimeout: cfg.GetReadTimeout(),
			BufferSize:  cfg.ReadBufferSize,
		}, logger), nil
	case protocol.FramingSerial:
		return NewSerial(SerialOptions{
			Device:      cfg.SerialDevice,
			BaudRate:    cfg.BaudRate,
			ReadTimeout: cfg.GetReadTimeout(),
			BufferSize:  cfg.ReadBufferSize,
			BootDelay:   cfg.GetBootDelay(),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

func withDefaults(timeout time.Duration, size int) (time.Duration, int) {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	if size <= 0 {
		size = 4096
	}
	return timeout, size
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
