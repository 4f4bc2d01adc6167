package supervisor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// maxHandshakeBytes bounds the text kept while looking for the token
const maxHandshakeBytes = 4096

// handshake reads until the ready token shows up or the timeout passes.
// Only transport errors are fatal; a silent peripheral is accepted.
func (s *Supervisor) handshake(ctx context.Context) (bool, error) {
	token := []byte(s.opts.HandshakeToken)
	if s.opts.HandshakeTimeout <= 0 || len(token) == 0 {
		s.metrics.RecordHandshake(false)
		return false, nil
	}

	s.logger.Info("Waiting for peripheral handshake",
		slog.String("token", s.opts.HandshakeToken),
		slog.Duration("timeout", s.opts.HandshakeTimeout),
	)

	deadline := time.Now().Add(s.opts.HandshakeTimeout)
	var seen []byte
	var line []byte

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		data, err := s.t.ReadAvailable()
		if err != nil {
			return false, err
		}
		if len(data) == 0 {
			continue
		}

		line = s.logHandshakeLines(line, data)

		seen = append(seen, data...)
		if bytes.Contains(seen, token) {
			s.metrics.RecordHandshake(true)
			s.logger.Info("Peripheral handshake received")
			return true, nil
		}
		if len(seen) > maxHandshakeBytes {
			// keep enough to match a token split across reads
			seen = append(seen[:0], seen[len(seen)-len(token):]...)
		}
	}

	s.metrics.RecordHandshake(false)
	s.logger.Warn("Handshake token not received, continuing",
		slog.String("token", s.opts.HandshakeToken),
		slog.Duration("timeout", s.opts.HandshakeTimeout),
	)
	return false, nil
}

// logHandshakeLines logs each complete printable line as a device line and
// returns the unterminated remainder
func (s *Supervisor) logHandshakeLines(pending, data []byte) []byte {
	pending = append(pending, data...)
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		text := strings.TrimSpace(string(pending[:i]))
		pending = pending[i+1:]
		if text != "" && printable(text) {
			s.logger.Info("Device status", slog.String("device_line", text))
			s.mu.Lock()
			s.lastDeviceLine = text
			s.mu.Unlock()
		}
	}
	if len(pending) > maxHandshakeBytes {
		pending = pending[:0]
	}
	return pending
}

func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
