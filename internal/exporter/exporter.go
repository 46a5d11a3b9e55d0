// Package exporter ships encoded batch payloads to the InfluxDB v2 write
// endpoint with bounded retry of transient failures.
package exporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// writePath is the InfluxDB v2 write endpoint path.
const writePath = "/api/v2/write"

// responseSnippetLimit bounds how much of an error response body is kept
// for diagnostics.
const responseSnippetLimit = 512

var (
	// uploadRequestsTotal tracks outbound write attempts, one per HTTP request.
	uploadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "influx_loadgen_upload_requests_total",
		Help: "Total number of write requests attempted",
	})

	// uploadErrorsTotal tracks failed attempts by error type.
	uploadErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "influx_loadgen_upload_errors_total",
		Help: "Total number of failed write attempts by error type",
	}, []string{"error_type"})

	// uploadRetriesTotal tracks re-issued requests.
	uploadRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "influx_loadgen_upload_retries_total",
		Help: "Total number of retried write requests",
	})

	// uploadBytesTotal tracks bytes acknowledged by the backend, by content encoding.
	uploadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "influx_loadgen_upload_bytes_total",
		Help: "Total payload bytes successfully written, by content encoding",
	}, []string{"encoding"})
)

func init() {
	prometheus.MustRegister(uploadRequestsTotal)
	prometheus.MustRegister(uploadErrorsTotal)
	prometheus.MustRegister(uploadRetriesTotal)
	prometheus.MustRegister(uploadBytesTotal)
}

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts. Zero means the default (100).
	MaxIdleConns int
	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections
	// to keep per-host. Zero means the default (100).
	MaxIdleConnsPerHost int
	// IdleConnTimeout is the maximum amount of time an idle connection will
	// remain idle before closing itself. Zero means the default (90s).
	IdleConnTimeout time.Duration
	// DisableKeepAlives, if true, disables HTTP keep-alives and will only use
	// the connection to the server for a single HTTP request.
	DisableKeepAlives bool
}

// Config holds the exporter configuration.
type Config struct {
	// URL is the InfluxDB location (scheme + host, optionally port). A
	// trailing slash is stripped before the write path is appended.
	URL string
	// Org is the InfluxDB organization.
	Org string
	// Bucket is the destination bucket.
	Bucket string
	// Token is the API auth token.
	Token string
	// Timeout bounds one request attempt. Zero means 30s. A timed-out
	// attempt classifies as retryable.
	Timeout time.Duration
	// Retry is the backoff policy applied between attempts.
	Retry RetryPolicy
	// HTTPClient configures the shared connection pool.
	HTTPClient HTTPClientConfig
}

// Payload is one immutable encoded batch body plus the content-encoding
// label to advertise. The bytes are never mutated by the exporter, so the
// same payload can be re-issued on retry without side effects.
type Payload struct {
	Body            []byte
	ContentEncoding string
}

// Exporter posts payloads to a single write endpoint. The underlying HTTP
// client and its connection pool are safe for concurrent use, so one
// Exporter is shared by all pipeline workers.
type Exporter struct {
	client    *http.Client
	writeURL  string
	authToken string
	retry     RetryPolicy
}

// New builds an Exporter from configuration. Fails on a malformed endpoint
// URL; that is a configuration error, not a transient condition.
func New(cfg Config) (*Exporter, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("endpoint url %q: unsupported scheme %q", cfg.URL, base.Scheme)
	}

	base.Path += writePath
	q := url.Values{}
	q.Set("org", cfg.Org)
	q.Set("bucket", cfg.Bucket)
	q.Set("precision", "ns")
	base.RawQuery = q.Encode()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Exporter{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		writeURL:  base.String(),
		authToken: cfg.Token,
		retry:     cfg.Retry,
	}, nil
}

// WriteURL returns the fully formed write endpoint URL.
func (e *Exporter) WriteURL() string {
	return e.writeURL
}

// Send posts one payload, retrying transient failures under the configured
// backoff policy. Returns nil once the backend acknowledges the batch, or
// the first fatal (or retry-exhausted) error.
func (e *Exporter) Send(ctx context.Context, p Payload) error {
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		return e.post(ctx, p)
	}, func(n int, delay time.Duration) {
		uploadRetriesTotal.Inc()
	})
	if err != nil {
		return fmt.Errorf("post data: %w", err)
	}

	uploadBytesTotal.WithLabelValues(p.ContentEncoding).Add(float64(len(p.Body)))
	return nil
}

// post performs a single write attempt. A fresh request is constructed from
// the immutable payload bytes each time, so every attempt is an identical,
// side-effect-free re-issue.
func (e *Exporter) post(ctx context.Context, p Payload) error {
	req, err := e.buildRequest(ctx, p)
	if err != nil {
		return err
	}

	uploadRequestsTotal.Inc()

	resp, err := e.client.Do(req)
	if err != nil {
		errType := classifyTransportError(err)
		uploadErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &UploadError{Err: err, Type: errType}
	}
	defer resp.Body.Close()

	// Read the body to allow connection reuse; keep a snippet for errors.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippetLimit))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	errType := classifyStatusCode(resp.StatusCode)
	uploadErrorsTotal.WithLabelValues(string(errType)).Inc()
	return &UploadError{
		Type:       errType,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(snippet)),
	}
}

// buildRequest constructs one write request for the payload. Failures here
// indicate a programming or configuration defect and are fatal.
func (e *Exporter) buildRequest(ctx context.Context, p Payload) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.writeURL, bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+e.authToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Encoding", p.ContentEncoding)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return req, nil
}

// Close releases idle connections in the shared pool.
func (e *Exporter) Close() {
	e.client.CloseIdleConnections()
}
