package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/audio"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/metrics"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/recognizer"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/supervisor"
)

// device is the supervisor as seen by the capture loop
type device interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context) error
	Watch(ctx context.Context) error
	Capture(ctx context.Context, d time.Duration) (*audio.Result, error)
	RequestStatus() error
	Close() error
}

type speechRecognizer interface {
	Recognize(ctx context.Context, clip *audio.AudioClip) (string, error)
}

// loopConfig is the caller policy around the supervisor
type loopConfig struct {
	CaptureDuration        time.Duration
	MaxConsecutiveFailures int

	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxElapsed time.Duration // 0 retries forever

	RecognizeRetries int
	RetryInitial     time.Duration
}

// assistant connects to the peripheral, captures fixed-length utterances and
// hands recognized text to onText
type assistant struct {
	dev     device
	recog   speechRecognizer
	cfg     loopConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	onText  func(ctx context.Context, text string)
}

// run keeps a connection up until ctx is done. It returns nil on shutdown and
// an error only when reconnect attempts are exhausted.
func (a *assistant) run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.ReconnectInitial
	b.MaxInterval = a.cfg.ReconnectMax
	b.MaxElapsedTime = a.cfg.ReconnectMaxElapsed

	for {
		b.Reset()
		err := backoff.RetryNotify(func() error {
			return a.dev.Connect(ctx)
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			a.logger.Warn("Peripheral connect failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		})
		if ctx.Err() != nil {
			a.dev.Close()
			return nil
		}
		if err != nil {
			return err
		}

		err = a.serve(ctx)
		a.dev.Close()
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("Peripheral connection ended, reconnecting",
			slog.String("error", errString(err)),
		)
	}
}

// serve runs the reader loop, the staleness watch and the capture loop for
// one connection. The first of them to fail ends all three.
func (a *assistant) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dev.Run(gctx) })
	g.Go(func() error { return a.dev.Watch(gctx) })
	g.Go(func() error { return a.captureLoop(gctx) })
	return g.Wait()
}

// captureLoop records utterances back to back. It returns when ctx is done or
// the connection is gone. Every capture that yields no text counts as a
// failure, whether the audio was short, stale, or not recognized.
func (a *assistant) captureLoop(ctx context.Context) error {
	failures := 0
	for {
		result, err := a.dev.Capture(ctx, a.cfg.CaptureDuration)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var stale *supervisor.StaleDataError
			switch {
			case errors.As(err, &stale):
				a.logger.Warn("Capture stalled",
					slog.Duration("silence", stale.Silence),
					slog.Uint64("bytes_received", stale.BytesReceived),
				)
			case errors.Is(err, audio.ErrInsufficientAudio):
				a.logger.Warn("Capture too short", slog.String("error", err.Error()))
			default:
				return err
			}

			failures = a.countFailure(failures)
			continue
		}

		text, err := a.recognize(ctx, result.Clip)
		switch {
		case err == nil:
			failures = 0
			a.logger.Info("Speech recognized",
				slog.String("clip_id", result.Clip.ID()),
				slog.String("text", text),
			)
			if a.onText != nil {
				a.onText(ctx, text)
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, recognizer.ErrNotRecognized):
			a.logger.Info("Speech not understood",
				slog.String("clip_id", result.Clip.ID()),
				slog.Bool("no_signal", result.NoSignal),
			)
			failures = a.countFailure(failures)
		default:
			a.logger.Error("Recognition failed",
				slog.String("clip_id", result.Clip.ID()),
				slog.String("error", err.Error()),
			)
			failures = a.countFailure(failures)
		}
	}
}

// countFailure asks the peripheral for STATUS once failures reach the
// configured limit and returns the updated count
func (a *assistant) countFailure(failures int) int {
	failures++
	if a.cfg.MaxConsecutiveFailures <= 0 || failures < a.cfg.MaxConsecutiveFailures {
		return failures
	}

	a.logger.Warn("Repeated empty captures, requesting peripheral status",
		slog.Int("consecutive_failures", failures),
	)
	if err := a.dev.RequestStatus(); err != nil {
		a.logger.Error("STATUS request failed", slog.String("error", err.Error()))
	}
	return 0
}

// recognize calls the recognizer, retrying transient failures with
// exponential backoff
func (a *assistant) recognize(ctx context.Context, clip *audio.AudioClip) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.RetryInitial
	b.MaxElapsedTime = 0

	var text string
	err := backoff.RetryNotify(func() error {
		var err error
		text, err = a.recog.Recognize(ctx, clip)
		if err != nil && !recognizer.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(a.cfg.RecognizeRetries, 0))), ctx),
		func(err error, next time.Duration) {
			a.metrics.RecordRecognizerRetry()
			a.logger.Warn("Recognition attempt failed, retrying",
				slog.String("clip_id", clip.ID()),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		})
	return text, err
}

func errString(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
