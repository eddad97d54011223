// Package client provides the upstream HTTP client for the product backend.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"product-gateway/internal/config"
	"product-gateway/internal/metrics"
	"product-gateway/internal/model"
)

const (
	// Timeout bounds a whole upstream exchange, body read included.
	Timeout = 30 * time.Second
	// MaxBodyBytes caps both the forwarded request body and the buffered response body.
	MaxBodyBytes = 50 << 20
)

// ErrBodyTooLarge reports a request or response body over MaxBodyBytes.
var ErrBodyTooLarge = fmt.Errorf("body exceeds %d bytes", MaxBodyBytes)

// StatusValidator reports whether an upstream status counts as a success.
// A nil validator accepts every status.
type StatusValidator func(status int) bool

// UpstreamClient sends requests to the backend. Do never returns an error:
// every transport failure is folded into a model.Failure.
type UpstreamClient struct {
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics.Metrics
	validateStatus StatusValidator
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and the fixed timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   Timeout,
			// Redirects are relayed to the caller like any other status.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
	if from := cfg.Upstream.ErrorStatusFrom; from > 0 {
		c = c.withStatusValidator(func(status int) bool { return status < from })
	}
	return c
}

// withStatusValidator returns a copy of c that turns statuses rejected by v
// into FailureUpstreamErrorResponse outcomes.
func (c *UpstreamClient) withStatusValidator(v StatusValidator) *UpstreamClient {
	cp := *c
	cp.validateStatus = v
	return &cp
}

// Do performs a single call described by out and classifies the result.
// ctx is the inbound request context, so a caller that goes away aborts the
// upstream call as well.
func (c *UpstreamClient) Do(ctx context.Context, out *model.OutboundRequest) model.Outcome {
	method := metrics.NormalizeMethod(out.Method)

	if len(out.Body) > MaxBodyBytes {
		return c.fail(method, model.FailureUnknown, fmt.Errorf("request: %w", ErrBodyTooLarge))
	}

	target, err := targetURL(out)
	if err != nil {
		return c.fail(method, model.FailureUnknown, err)
	}

	var body io.Reader
	if out.Body != nil {
		body = bytes.NewReader(out.Body)
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, target, body)
	if err != nil {
		return c.fail(method, model.FailureUnknown, fmt.Errorf("build upstream request: %w", err))
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	c.logger.Debug("upstream request",
		"method", out.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, start)
		return c.fail(method, classify(err), fmt.Errorf("upstream request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	c.observe(method, start)
	if err != nil {
		return c.fail(method, classify(err), fmt.Errorf("read upstream body: %w", err))
	}
	if len(data) > MaxBodyBytes {
		return c.fail(method, model.FailureUnknown, fmt.Errorf("response: %w", ErrBodyTooLarge))
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if c.validateStatus != nil && !c.validateStatus(resp.StatusCode) {
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(method, model.FailureUpstreamErrorResponse.String()).Inc()
		}
		return model.Failed(&model.Failure{
			Kind:       model.FailureUpstreamErrorResponse,
			Detail:     fmt.Sprintf("upstream status %d rejected", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       data,
			Header:     resp.Header,
		})
	}

	return model.Succeeded(&model.Success{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	})
}

func (c *UpstreamClient) observe(method string, start time.Time) {
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func (c *UpstreamClient) fail(method string, kind model.FailureKind, err error) model.Outcome {
	if c.metrics != nil {
		c.metrics.UpstreamFailures.WithLabelValues(method, kind.String()).Inc()
	}
	c.logger.Debug("upstream failure", "kind", kind.String(), "err", err)
	return model.Failed(&model.Failure{Kind: kind, Detail: err.Error()})
}

// classify maps a transport error to a failure kind.
func classify(err error) model.FailureKind {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.FailureConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailureTimeout
	}
	return model.FailureUnknown
}

// targetURL returns out.TargetURL with any Query entries it does not already
// carry appended. The target's own query is kept byte for byte.
func targetURL(out *model.OutboundRequest) (string, error) {
	u, err := url.Parse(out.TargetURL)
	if err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	if len(out.Query) == 0 {
		return out.TargetURL, nil
	}

	present, _ := url.ParseQuery(u.RawQuery)
	extra := make(url.Values)
	for k, v := range out.Query {
		if _, ok := present[k]; !ok {
			extra.Set(k, v)
		}
	}
	if len(extra) == 0 {
		return out.TargetURL, nil
	}

	if u.RawQuery != "" {
		u.RawQuery += "&"
	}
	u.RawQuery += extra.Encode()
	return u.String(), nil
}
