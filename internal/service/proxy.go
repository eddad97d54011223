// Package service implements the gateway's forwarding logic: request
// translation, dispatch to the backend and failure classification.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
	"product-gateway/internal/model"
)

const defaultContentType = "application/json"

// Inbound is the part of an inbound request that translation reads.
type Inbound struct {
	Method string
	// RequestURI is the path plus raw query exactly as received.
	RequestURI string
	RawQuery   string
	Header     http.Header
	Body       []byte
	ClientIP   string
	Scheme     string
}

// ProxyService translates inbound requests and dispatches them to the backend.
type ProxyService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL string
}

// NewProxyService creates a ProxyService for the configured backend.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: cfg.Upstream.BaseURL,
	}
}

// Forward translates in and performs the upstream call. The result is
// always an Outcome; transport problems come back as a model.Failure.
func (s *ProxyService) Forward(ctx context.Context, in *Inbound) model.Outcome {
	out := s.Translate(in)

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"target", out.TargetURL,
	)

	return s.client.Do(ctx, out)
}

// Translate builds the OutboundRequest for in.
//
// Headers are built from an allow-list rather than copied: only
// Content-Type (when a body is sent), X-Forwarded-For and X-Forwarded-Proto
// reach the backend.
func (s *ProxyService) Translate(in *Inbound) *model.OutboundRequest {
	out := &model.OutboundRequest{
		Method:    in.Method,
		TargetURL: s.baseURL + in.RequestURI,
		Query:     flattenQuery(in.RawQuery),
		Header:    make(http.Header),
	}

	ct := in.Header.Get("Content-Type")
	if hasBody(in.Body, ct) {
		out.Body = in.Body
		if ct == "" {
			ct = defaultContentType
		}
		out.Header.Set("Content-Type", ct)
	}

	out.Header.Set("X-Forwarded-For", in.ClientIP)
	out.Header.Set("X-Forwarded-Proto", in.Scheme)

	return out
}

// hasBody reports whether body carries content worth forwarding. Blank
// bodies never do. A JSON body (declared as JSON, or undeclared) that is
// just an empty object or array counts as absent too.
func hasBody(body []byte, contentType string) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if !isJSON(contentType) {
		return true
	}
	return !emptyJSONContainer(trimmed)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// emptyJSONContainer reports whether b is exactly one empty JSON object or
// array. Only the first tokens are decoded, so large bodies stay cheap.
func emptyJSONContainer(b []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return false
	}
	if d, ok := tok.(json.Delim); !ok || (d != '{' && d != '[') {
		return false
	}
	if dec.More() {
		return false
	}
	if _, err := dec.Token(); err != nil {
		return false
	}
	_, err = dec.Token()
	return errors.Is(err, io.EOF)
}

// flattenQuery parses a raw query into one value per key. Repeated keys
// keep their last value. Malformed pairs are skipped.
func flattenQuery(raw string) map[string]string {
	values, _ := url.ParseQuery(raw)
	flat := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			flat[k] = vs[len(vs)-1]
		}
	}
	return flat
}
