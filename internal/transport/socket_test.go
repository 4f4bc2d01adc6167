package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/protocol"
)

func openSocketPeer(t *testing.T, s *SocketTransport) net.Conn {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background()) }()

	require.Eventually(t, func() bool { return s.ListenAddr() != nil }, 2*time.Second, 5*time.Millisecond)

	peer, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after peer connected")
	}
	return peer
}

func readUntilData(t *testing.T, s *SocketTransport) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := s.ReadAvailable()
		require.NoError(t, err)
		if len(data) > 0 {
			return data
		}
	}
	t.Fatal("no data received")
	return nil
}

func TestSocketTransportDuplex(t *testing.T) {
	s := NewSocket(SocketOptions{Address: "127.0.0.1:0", ReadTimeout: 20 * time.Millisecond}, nil)
	defer s.Close()

	require.Equal(t, protocol.FramingWifi, s.Kind())
	peer := openSocketPeer(t, s)

	// Nothing sent yet: a poll timeout is not an error.
	data, err := s.ReadAvailable()
	require.NoError(t, err)
	require.Empty(t, data)

	_, err = peer.Write([]byte{'A', 0x00, 0x01, 0x7F})
	require.NoError(t, err)
	require.Equal(t, []byte{'A', 0x00, 0x01, 0x7F}, readUntilData(t, s))

	require.NoError(t, s.WriteLine(CommandStart))
	line, err := bufio.NewReader(peer).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "START\n", line)
}

func TestSocketTransportPeerDisconnect(t *testing.T) {
	s := NewSocket(SocketOptions{Address: "127.0.0.1:0", ReadTimeout: 20 * time.Millisecond}, nil)
	defer s.Close()

	peer := openSocketPeer(t, s)
	require.NoError(t, peer.Close())

	var err error
	require.Eventually(t, func() bool {
		_, err = s.ReadAvailable()
		return err != nil
	}, 2*time.Second, time.Millisecond)

	require.True(t, IsConnectionError(err), "expected ConnectionError, got %v", err)
}

func TestSocketTransportCloseReleases(t *testing.T) {
	s := NewSocket(SocketOptions{Address: "127.0.0.1:0", ReadTimeout: 20 * time.Millisecond}, nil)
	openSocketPeer(t, s)

	require.NoError(t, s.Close())

	_, err := s.ReadAvailable()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.WriteLine(CommandStop), ErrClosed)

	// A fresh Open after Close must bind again.
	openSocketPeer(t, s)
	require.NoError(t, s.Close())
}

func TestSocketTransportOpenCancelled(t *testing.T) {
	s := NewSocket(SocketOptions{Address: "127.0.0.1:0"}, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Open(ctx) }()

	require.Eventually(t, func() bool { return s.ListenAddr() != nil }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var ce *ConnectionError
		require.True(t, errors.As(err, &ce))
		require.Equal(t, "accept", ce.Op)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not observe cancellation")
	}
	require.Nil(t, s.ListenAddr())
}

func TestSocketTransportBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s := NewSocket(SocketOptions{Address: busy.Addr().String()}, nil)
	err = s.Open(context.Background())

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "listen", ce.Op)
}
