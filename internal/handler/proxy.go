package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
	"product-gateway/internal/model"
	"product-gateway/internal/service"
)

// forwardedResponseHeaders are the only upstream response headers relayed to the caller.
var forwardedResponseHeaders = []string{
	echo.HeaderContentType,
	echo.HeaderContentLength,
}

// ProxyHandler forwards /api/* requests to the product backend.
type ProxyHandler struct {
	service    *service.ProxyService
	logger     *slog.Logger
	trustProxy bool
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:    svc,
		logger:     logger.With("component", "proxy_handler"),
		trustProxy: cfg.Server.TrustProxyHeaders,
	}
}

// Handle proxies the request to the backend and writes exactly one response:
// the backend's own status and body, or a classified gateway error.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := readBody(req)
	if err != nil {
		return err
	}

	in := &service.Inbound{
		Method:     req.Method,
		RequestURI: req.URL.RequestURI(),
		RawQuery:   req.URL.RawQuery,
		Header:     req.Header,
		Body:       body,
		ClientIP:   clientIP(c),
		Scheme:     h.scheme(c),
	}

	outcome := h.service.Forward(req.Context(), in)
	if outcome.Failure != nil {
		return h.writeFailure(c, outcome.Failure)
	}
	return h.writeSuccess(c, outcome.Success)
}

func (h *ProxyHandler) writeSuccess(c echo.Context, s *model.Success) error {
	res := c.Response()
	for _, key := range forwardedResponseHeaders {
		if v := s.Header.Get(key); v != "" {
			res.Header().Set(key, v)
		}
	}
	res.WriteHeader(s.StatusCode)
	if len(s.Body) == 0 {
		return nil
	}

	// The status line is already out; a failed body write can only be
	// reported to echo, which will not try to write again.
	if _, err := res.Write(s.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
		return fmt.Errorf("write response body: %w", err)
	}
	return nil
}

func (h *ProxyHandler) writeFailure(c echo.Context, f *model.Failure) error {
	h.logger.Warn("upstream failure",
		"kind", f.Kind.String(),
		"detail", f.Detail,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	if c.Response().Committed {
		return fmt.Errorf("upstream %s after response committed", f.Kind)
	}

	r := service.Classify(f)
	return c.Blob(r.StatusCode, r.ContentType, r.Body)
}

// scheme reports the inbound protocol. Forwarding headers are only
// honored when the gateway is configured to trust them.
func (h *ProxyHandler) scheme(c echo.Context) string {
	if h.trustProxy {
		return c.Scheme()
	}
	if c.Request().TLS != nil {
		return "https"
	}
	return "http"
}

// clientIP returns the caller address as resolved by echo's IP extractor,
// falling back to the host part of the connection remote address.
func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	remote := c.Request().RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// readBody reads the inbound body up to client.MaxBodyBytes. Echo's
// BodyLimit middleware normally rejects larger bodies first; its
// *echo.HTTPError is passed through unchanged.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, client.MaxBodyBytes+1))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(body) > client.MaxBodyBytes {
		return nil, echo.ErrStatusRequestEntityTooLarge
	}
	return body, nil
}
