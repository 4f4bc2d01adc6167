package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/protocol"
)

// SocketOptions configures a SocketTransport
type SocketOptions struct {
	Address     string        // host:port to listen on
	ReadTimeout time.Duration // poll interval for ReadAvailable
	BufferSize  int           // bytes per read
}

// SocketTransport listens on a TCP endpoint and serves exactly one peer
type SocketTransport struct {
	opts   SocketOptions
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	buf      []byte
	closed   bool
}

// NewSocket creates a socket transport. Nothing is bound until Open.
func NewSocket(opts SocketOptions, logger *slog.Logger) *SocketTransport {
	opts.ReadTimeout, opts.BufferSize = withDefaults(opts.ReadTimeout, opts.BufferSize)
	return &SocketTransport{
		opts:   opts,
		logger: orDiscard(logger),
		buf:    make([]byte, opts.BufferSize),
	}
}

// Open binds the listener and blocks until one peer connects or ctx is done.
// The listener is released once the peer is accepted.
func (s *SocketTransport) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil || s.listener != nil {
		s.mu.Unlock()
		return &ConnectionError{Op: "listen", Addr: s.opts.Address, Err: errors.New("already open")}
	}
	s.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Address)
	if err != nil {
		return &ConnectionError{Op: "listen", Addr: s.opts.Address, Err: err}
	}

	s.mu.Lock()
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("Waiting for peripheral connection",
		slog.String("address", ln.Addr().String()),
	)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	conn, err := ln.Accept()
	stop()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	ln.Close()

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &ConnectionError{Op: "accept", Addr: s.opts.Address, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return &ConnectionError{Op: "accept", Addr: s.opts.Address, Err: ErrClosed}
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Peripheral connected",
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	return nil
}

// ListenAddr returns the bound address while Open is waiting for a peer
func (s *SocketTransport) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ReadAvailable reads whatever arrives within one poll interval
func (s *SocketTransport) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
		return nil, s.readError(err)
	}

	n, err := conn.Read(s.buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, s.buf[:n])
		return data, nil
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, s.readError(err)
	}
	return nil, nil
}

func (s *SocketTransport) readError(err error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("peer disconnected: %w", err)
	}
	return &ConnectionError{Op: "read", Addr: s.opts.Address, Err: err}
}

// WriteLine sends cmd followed by a newline
func (s *SocketTransport) WriteLine(cmd string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	if _, err := io.WriteString(conn, cmd+"\n"); err != nil {
		return &ConnectionError{Op: "write", Addr: s.opts.Address, Err: err}
	}
	return nil
}

// Close releases the peer connection and any pending listener
func (s *SocketTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
		s.listener = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return errors.Join(errs...)
}

// Kind returns the framing used over sockets
func (s *SocketTransport) Kind() protocol.FramingKind {
	return protocol.FramingWifi
}

func (s *SocketTransport) String() string {
	return "socket " + s.opts.Address
}
