// Package client provides the pooled, retrying HTTP client used for the
// outbound leg of every proxied request.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"roblox-proxy-go/internal/config"
	"roblox-proxy-go/internal/metrics"
	"roblox-proxy-go/internal/model"
)

// Options configure an UpstreamClient.
type Options struct {
	// Timeout bounds each individual attempt, not the whole retry sequence.
	Timeout         time.Duration
	MaxConnsPerHost int
	MaxIdleConns    int
	Retry           RetryPolicy
}

// OptionsFromConfig derives client options from the upstream config section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:         cfg.Upstream.Timeout(),
		MaxConnsPerHost: cfg.Upstream.MaxConnsPerHost,
		MaxIdleConns:    cfg.Upstream.MaxIdleConns,
		Retry:           RetryPolicyFromConfig(cfg.Upstream.Retry),
	}
}

// UpstreamClient sends requests to arbitrary targets through one shared
// connection pool. It is safe for concurrent use.
type UpstreamClient struct {
	client    *retryablehttp.Client
	transport *http.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient from config.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	return New(OptionsFromConfig(cfg), logger, m)
}

// New creates an UpstreamClient with connection pooling, per-attempt timeouts
// and retries. Redirects are never followed.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	logger = logger.With("component", "upstream_client")

	rc := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: pooledTransport{transport},
			Timeout:   opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Logger:       logger,
		RetryWaitMin: opts.Retry.BackoffBase,
		RetryWaitMax: opts.Retry.BackoffMax,
		RetryMax:     opts.Retry.Retries(),
		CheckRetry:   opts.Retry.CheckRetry,
		Backoff:      opts.Retry.Backoff,
		// Hand back the last response (or error) once retries are exhausted
		// so a final 503 is relayed as-is.
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	c := &UpstreamClient{
		client:    rc,
		transport: transport,
		logger:    logger,
		metrics:   m,
	}
	rc.RequestLogHook = c.onAttempt
	rc.ResponseLogHook = c.onResponse
	return c
}

// Do sends a request upstream, retrying per the client's policy, and returns
// the fully buffered final response.
func (c *UpstreamClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ForwardResponse, error) {
	var raw any
	if len(body) > 0 {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(failureReason(err)).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(failureReason(err)).Inc()
		}
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// CloseIdleConnections releases pooled connections; used on shutdown.
func (c *UpstreamClient) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// pooledTransport hides CloseIdleConnections from retryablehttp, which calls
// it whenever it gives up on a request. The pool is shared by every target,
// so only shutdown may drain it.
type pooledTransport struct {
	rt http.RoundTripper
}

func (t pooledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.rt.RoundTrip(req)
}

func (c *UpstreamClient) onAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if attempt == 0 {
		return
	}
	c.logger.Debug("retrying upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"attempt", attempt+1,
	)
	if c.metrics != nil {
		c.metrics.UpstreamRetries.WithLabelValues(metrics.NormalizeMethod(req.Method)).Inc()
	}
}

func (c *UpstreamClient) onResponse(_ retryablehttp.Logger, resp *http.Response) {
	if c.metrics == nil || resp.Request == nil {
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(
		metrics.NormalizeMethod(resp.Request.Method),
		strconv.Itoa(resp.StatusCode),
	).Inc()
}

// IsTimeout reports whether err is an upstream timeout, either from the
// per-attempt client timeout or from the request context deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func failureReason(err error) string {
	switch {
	case IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
