package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/audio"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/metrics"
)

// ErrNotRecognized means the service answered but heard no words
var ErrNotRecognized = errors.New("speech not recognized")

// Config contains recognizer client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Language string
	Timeout  time.Duration
}

// Response represents the response from the recognition API
type Response struct {
	ClipID     string  `json:"clip_id"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Duration   float64 `json:"duration"`
}

// StatusError is a non-2xx answer from the recognition API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	NotRecognized   uint64        `json:"not_recognized"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Client sends clips to the recognition API
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	notRecognized   uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new recognizer HTTP client. m may be nil.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.Language == "" {
		config.Language = "pt-BR"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		metrics:    m,
	}, nil
}

// Recognize uploads clip and returns the recognized text. An empty
// transcript is reported as ErrNotRecognized.
func (c *Client) Recognize(ctx context.Context, clip *audio.AudioClip) (string, error) {
	startTime := time.Now()
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()
	c.metrics.RecordRecognizerRequest()

	resp, err := c.doRequest(ctx, clip)
	elapsed := time.Since(startTime)

	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = ErrNotRecognized
	}

	c.mu.Lock()
	switch {
	case err == nil:
		c.successRequests++
		if c.avgResponseTime == 0 {
			c.avgResponseTime = elapsed
		} else {
			c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
		}
	case errors.Is(err, ErrNotRecognized):
		c.notRecognized++
	default:
		c.failedRequests++
	}
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordRecognizerFailure(elapsed.Seconds())
		return "", err
	}

	c.metrics.RecordRecognizerSuccess(elapsed.Seconds())
	return strings.TrimSpace(resp.Text), nil
}

// doRequest performs a single HTTP request to the recognition API
func (c *Client) doRequest(ctx context.Context, clip *audio.AudioClip) (*Response, error) {
	body, contentType, err := c.createMultipartRequest(clip)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "car-voice-assistant/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &out, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(clip *audio.AudioClip) (io.Reader, string, error) {
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", clip.ID()+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"clip_id", clip.ID()},
		{"language", c.config.Language},
		{"sample_rate", strconv.Itoa(clip.SampleRate())},
		{"duration", fmt.Sprintf("%.3f", clip.Duration().Seconds())},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// IsRetryable reports whether a Recognize error may succeed on a new attempt:
// timeouts, connection failures, 429 and 5xx answers
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotRecognized) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		NotRecognized:   c.notRecognized,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
