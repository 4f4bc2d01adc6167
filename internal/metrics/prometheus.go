package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection states exported by the connection_state gauge
var connectionStates = []string{"connecting", "handshaking", "active", "degraded", "closed"}

// Metrics contains all Prometheus metrics for the audio ingestion pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Transport metrics
	BytesRead        prometheus.Counter
	ReadErrors       prometheus.Counter
	ConnectAttempts  *prometheus.CounterVec
	ConnectionState  *prometheus.GaugeVec
	HandshakeResults *prometheus.CounterVec
	CommandsSent     *prometheus.CounterVec

	// Decoder metrics
	FramesDecoded   prometheus.Counter
	PayloadBytes    prometheus.Counter
	BytesDiscarded  prometheus.Counter
	Resyncs         prometheus.Counter
	OversizedFrames prometheus.Counter
	DeviceLines     prometheus.Counter

	// Session metrics
	FramesAppended prometheus.Counter
	FramesDropped  prometheus.Counter
	Recording      prometheus.Gauge

	// Capture metrics
	Captures        *prometheus.CounterVec
	CaptureBytes    prometheus.Histogram
	CapturePeak     prometheus.Histogram
	CaptureDuration prometheus.Histogram

	// Recognizer metrics
	RecognizerRequests  prometheus.Counter
	RecognizerSuccesses prometheus.Counter
	RecognizerFailures  prometheus.Counter
	RecognizerDuration  prometheus.Histogram
	RecognizerRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg, or on the default
// registerer when reg is nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Transport metrics
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_bytes_read_total",
			Help: "Total number of raw bytes read from the peripheral",
		}),
		ReadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_read_errors_total",
			Help: "Total number of terminal transport read errors",
		}),
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_connect_attempts_total",
			Help: "Total number of transport open attempts by result",
		}, []string{"result"}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_ingest_connection_state",
			Help: "Current supervisor state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		HandshakeResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_handshakes_total",
			Help: "Total number of handshakes by result",
		}, []string{"result"}),
		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_commands_sent_total",
			Help: "Total number of device commands written",
		}, []string{"command"}),

		// Decoder metrics
		FramesDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_frames_decoded_total",
			Help: "Total number of audio frames decoded",
		}),
		PayloadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_payload_bytes_total",
			Help: "Total number of audio payload bytes decoded",
		}),
		BytesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_bytes_discarded_total",
			Help: "Total number of bytes skipped while resynchronizing",
		}),
		Resyncs: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_resyncs_total",
			Help: "Total number of decoder resynchronizations",
		}),
		OversizedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_oversized_frames_total",
			Help: "Total number of frame headers rejected for declaring too large a payload",
		}),
		DeviceLines: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_device_lines_total",
			Help: "Total number of text status lines received from the peripheral",
		}),

		// Session metrics
		FramesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_frames_appended_total",
			Help: "Total number of frames appended to a recording",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_frames_dropped_total",
			Help: "Total number of frames dropped because no recording was active",
		}),
		Recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "audio_ingest_recording",
			Help: "1 while a capture is in progress",
		}),

		// Capture metrics
		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_captures_total",
			Help: "Total number of captures by result",
		}, []string{"result"}),
		CaptureBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_ingest_capture_bytes",
			Help:    "Size of drained capture buffers in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}),
		CapturePeak: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_ingest_capture_peak",
			Help:    "Absolute peak sample of captures before normalization",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12), // 16 to 32768
		}),
		CaptureDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_ingest_capture_duration_seconds",
			Help:    "Duration of produced audio clips",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
		}),

		// Recognizer metrics
		RecognizerRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_recognizer_requests_total",
			Help: "Total number of recognition requests sent",
		}),
		RecognizerSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_recognizer_successes_total",
			Help: "Total number of successful recognition requests",
		}),
		RecognizerFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_recognizer_failures_total",
			Help: "Total number of failed recognition requests",
		}),
		RecognizerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_ingest_recognizer_duration_seconds",
			Help:    "Duration of recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~13s
		}),
		RecognizerRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "audio_ingest_recognizer_retries_total",
			Help: "Total number of recognition request retries",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audio_ingest_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBytesRead adds raw transport bytes
func (m *Metrics) RecordBytesRead(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

// RecordReadError increments the read errors counter
func (m *Metrics) RecordReadError() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
}

// RecordConnectAttempt records the outcome of a transport open
func (m *Metrics) RecordConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// SetConnectionState marks state as the current supervisor state
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordHandshake records whether the ready token was seen
func (m *Metrics) RecordHandshake(verified bool) {
	if m == nil {
		return
	}
	result := "verified"
	if !verified {
		result = "missing"
	}
	m.HandshakeResults.WithLabelValues(result).Inc()
}

// RecordCommand increments the counter for a device command
func (m *Metrics) RecordCommand(cmd string) {
	if m == nil {
		return
	}
	m.CommandsSent.WithLabelValues(cmd).Inc()
}

// RecordDecoder adds decoder counter deltas
func (m *Metrics) RecordDecoder(frames, payloadBytes, discarded, resyncs, oversized, lines uint64) {
	if m == nil {
		return
	}
	m.FramesDecoded.Add(float64(frames))
	m.PayloadBytes.Add(float64(payloadBytes))
	m.BytesDiscarded.Add(float64(discarded))
	m.Resyncs.Add(float64(resyncs))
	m.OversizedFrames.Add(float64(oversized))
	m.DeviceLines.Add(float64(lines))
}

// RecordFrame records whether a decoded frame was appended to a recording
func (m *Metrics) RecordFrame(appended bool) {
	if m == nil {
		return
	}
	if appended {
		m.FramesAppended.Inc()
	} else {
		m.FramesDropped.Inc()
	}
}

// SetRecording sets the recording gauge
func (m *Metrics) SetRecording(active bool) {
	if m == nil {
		return
	}
	if active {
		m.Recording.Set(1)
	} else {
		m.Recording.Set(0)
	}
}

// RecordCapture increments the captures counter for result
func (m *Metrics) RecordCapture(result string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(result).Inc()
}

// RecordClip records the shape of a produced clip
func (m *Metrics) RecordClip(inputBytes, peak int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CaptureBytes.Observe(float64(inputBytes))
	m.CapturePeak.Observe(float64(peak))
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordRecognizerRequest increments recognition requests counter
func (m *Metrics) RecordRecognizerRequest() {
	if m == nil {
		return
	}
	m.RecognizerRequests.Inc()
}

// RecordRecognizerSuccess records a successful recognition
func (m *Metrics) RecordRecognizerSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecognizerSuccesses.Inc()
	m.RecognizerDuration.Observe(durationSeconds)
}

// RecordRecognizerFailure records a failed recognition
func (m *Metrics) RecordRecognizerFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecognizerFailures.Inc()
	m.RecognizerDuration.Observe(durationSeconds)
}

// RecordRecognizerRetry increments the retry counter
func (m *Metrics) RecordRecognizerRetry() {
	if m == nil {
		return
	}
	m.RecognizerRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
