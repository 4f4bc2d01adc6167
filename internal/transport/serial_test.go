package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/protocol"
)

// fakePort implements the serial.Port methods the transport uses
type fakePort struct {
	serial.Port

	mu       sync.Mutex
	incoming [][]byte
	written  []byte
	resets   int
	timeout  time.Duration
	closed   bool
	readErr  error
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, &serial.PortError{}
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.incoming) == 0 {
		return 0, nil
	}
	n := copy(b, p.incoming[0])
	p.incoming = p.incoming[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.incoming = nil
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newTestSerial(port *fakePort, openErr error) (*SerialTransport, *serial.Mode) {
	s := NewSerial(SerialOptions{Device: "/dev/ttyTEST", ReadTimeout: 10 * time.Millisecond}, nil)
	var gotMode serial.Mode
	s.openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		gotMode = *mode
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	return s, &gotMode
}

func TestSerialTransportOpen(t *testing.T) {
	port := &fakePort{incoming: [][]byte{[]byte("boot noise")}}
	s, mode := newTestSerial(port, nil)

	require.Equal(t, protocol.FramingSerial, s.Kind())
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	require.Equal(t, 115200, mode.BaudRate)
	require.Equal(t, 10*time.Millisecond, port.timeout)
	require.Equal(t, 1, port.resets)

	// Boot noise was discarded.
	data, err := s.ReadAvailable()
	require.NoError(t, err)
	require.Nil(t, data)

	port.mu.Lock()
	port.incoming = append(port.incoming, []byte{0xFF, 0xFE, 0x00, 0x00})
	port.mu.Unlock()

	data, err = s.ReadAvailable()
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFE, 0x00, 0x00}, data)

	require.NoError(t, s.WriteLine(CommandStatus))
	require.Equal(t, "STATUS\n", string(port.written))
}

func TestSerialTransportOpenFailure(t *testing.T) {
	s, _ := newTestSerial(nil, errors.New("no such device"))

	err := s.Open(context.Background())
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "open", ce.Op)
	require.Equal(t, "/dev/ttyTEST", ce.Addr)

	_, err = s.ReadAvailable()
	require.ErrorIs(t, err, ErrClosed)
}

func TestSerialTransportBootCancelledReleasesPort(t *testing.T) {
	port := &fakePort{}
	s, _ := newTestSerial(port, nil)
	s.opts.BootDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Open(ctx)
	require.True(t, IsConnectionError(err))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, port.closed)
}

func TestSerialTransportReadError(t *testing.T) {
	port := &fakePort{}
	s, _ := newTestSerial(port, nil)
	require.NoError(t, s.Open(context.Background()))

	port.mu.Lock()
	port.readErr = errors.New("device unplugged")
	port.mu.Unlock()

	_, err := s.ReadAvailable()
	require.True(t, IsConnectionError(err))

	require.NoError(t, s.Close())
	_, err = s.ReadAvailable()
	require.ErrorIs(t, err, ErrClosed)
}
