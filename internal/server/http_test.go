package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/config"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/metrics"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/recognizer"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/supervisor"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/transport"
)

type fakeDevice struct {
	mu       sync.Mutex
	status   supervisor.Status
	err      error
	requests int
}

func (d *fakeDevice) Status() supervisor.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDevice) RequestStatus() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	return d.err
}

type fakeStats struct{}

func (fakeStats) GetStats() recognizer.ClientStats {
	return recognizer.ClientStats{TotalRequests: 3, SuccessRequests: 2}
}

func newTestServer(t *testing.T, dev *fakeDevice) (*HTTPServer, *prometheus.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Recognizer.APIKey = "top-secret"

	reg := prometheus.NewRegistry()
	h := NewHTTPServer(cfg.HTTP, Options{
		Config:     cfg,
		Device:     dev,
		Recognizer: fakeStats{},
		Metrics:    metrics.NewMetrics(reg),
		Gatherer:   reg,
	})
	return h, reg
}

func do(t *testing.T, h *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	dev := &fakeDevice{status: supervisor.Status{State: supervisor.StateActive, Transport: "socket 0.0.0.0:5555"}}
	h, _ := newTestServer(t, dev)

	rec := do(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	peripheral := body["peripheral"].(map[string]any)
	assert.Equal(t, "active", peripheral["state"])
	assert.Equal(t, true, peripheral["connected"])
}

func TestStatus(t *testing.T) {
	dev := &fakeDevice{status: supervisor.Status{
		State:          supervisor.StateDegraded,
		LastDeviceLine: "MIC OK",
		Capturing:      true,
	}}
	h, _ := newTestServer(t, dev)

	rec := do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	sup := body["supervisor"].(map[string]any)
	assert.Equal(t, "degraded", sup["state"])
	assert.Equal(t, "MIC OK", sup["last_device_line"])
	assert.Equal(t, true, sup["capturing"])

	rec2 := body["recognizer"].(map[string]any)
	assert.EqualValues(t, 3, rec2["total_requests"])
}

func TestConfigMasksAPIKey(t *testing.T) {
	h, _ := newTestServer(t, &fakeDevice{})

	rec := do(t, h, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "top-secret")

	body := decode(t, rec)
	recog := body["recognizer"].(map[string]any)
	assert.Equal(t, "***", recog["api_key"])

	tr := body["transport"].(map[string]any)
	assert.Equal(t, "wifi", tr["kind"])
	assert.EqualValues(t, 5555, tr["port"])

	assert.Equal(t, "top-secret", h.config.Recognizer.APIKey)
}

func TestDeviceStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"sent", nil, http.StatusAccepted},
		{"not ready", supervisor.ErrNotReady, http.StatusServiceUnavailable},
		{"closed", supervisor.ErrClosed, http.StatusServiceUnavailable},
		{"link lost", &transport.ConnectionError{Op: "write", Addr: "x", Err: errors.New("broken pipe")}, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{err: tt.err}
			h, _ := newTestServer(t, dev)

			rec := do(t, h, http.MethodPost, "/device/status")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, 1, dev.requests)
		})
	}
}

func TestDeviceStatusRequiresPost(t *testing.T) {
	dev := &fakeDevice{}
	h, _ := newTestServer(t, dev)

	rec := do(t, h, http.MethodGet, "/device/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, dev.requests)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, &fakeDevice{})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "audio_ingest_http_requests_total"))
}

func TestRoot(t *testing.T) {
	h, _ := newTestServer(t, &fakeDevice{})

	rec := do(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["endpoints"], "POST /device/status")
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Address = "127.0.0.1"
	cfg.HTTP.Port = 0
	h := NewHTTPServer(cfg.HTTP, Options{Config: cfg, Device: &fakeDevice{}})

	require.NoError(t, h.Start())
	addr := h.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, h.Stop(t.Context()))
}
