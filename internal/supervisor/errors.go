package supervisor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned when the connection is not open
	ErrClosed = errors.New("connection closed")
	// ErrNotReady is returned while the connection is still being set up
	ErrNotReady = errors.New("connection not ready")
	// ErrCaptureInProgress is returned when a second capture is requested
	ErrCaptureInProgress = errors.New("capture already in progress")
	// ErrStaleData marks a capture aborted because frames stopped arriving
	ErrStaleData = errors.New("no audio data within staleness window")
)

// StaleDataError reports a recording that went silent on the wire. The
// connection may still be usable; the caller decides whether to retry.
type StaleDataError struct {
	Silence       time.Duration
	BytesReceived uint64
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("%v: no frame for %v after %d bytes", ErrStaleData, e.Silence.Round(time.Millisecond), e.BytesReceived)
}

func (e *StaleDataError) Unwrap() error {
	return ErrStaleData
}
