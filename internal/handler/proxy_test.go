package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
	"product-gateway/internal/model"
	"product-gateway/internal/service"
)

const (
	unavailableJSON = `{"error":"Backend service unavailable","message":"The backend service is currently unavailable. Please try again later."}`
	timeoutJSON     = `{"error":"Backend service timeout","message":"The backend service did not respond in time. Please try again later."}`
	badGatewayJSON  = `{"error":"bad gateway"}`
)

// newTestProxyHandler builds the full forwarding stack against baseURL.
func newTestProxyHandler(baseURL string, trustProxy bool) *ProxyHandler {
	cfg := &config.Config{
		Server:   config.ServerConfig{TrustProxyHeaders: trustProxy},
		Upstream: config.UpstreamConfig{BaseURL: baseURL, IdleConnections: 10},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, nil)
	svc := service.NewProxyService(uc, cfg, logger)
	return NewProxyHandler(svc, cfg, logger)
}

// closedAddr returns a local address nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestProxyHandler_Handle_CreateProduct(t *testing.T) {
	const created = `{"_id":"123","name":"Test Product","price":99.99,"createdAt":"2026-10-19T08:00:00.000Z"}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/api/products" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/api/products")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"Test Product","price":99.99}` {
			t.Errorf("upstream body = %q", body)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want %q", ct, "application/json")
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(created))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(upstream.URL, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(`{"name":"Test Product","price":99.99}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if rec.Body.String() != created {
		t.Errorf("body = %q, want %q", rec.Body.String(), created)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want upstream value", ct)
	}
}

func TestProxyHandler_Handle_ListEmpty(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			t.Errorf("GET without body should not carry one upstream")
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("Content-Type = %q, want none without a body", r.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(upstream.URL, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `[]` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `[]`)
	}
}

func TestProxyHandler_Handle_UpstreamStatusRelayed(t *testing.T) {
	tests := []struct {
		status int
		body   string
	}{
		{http.StatusBadRequest, `{"error":"Invalid name"}`},
		{http.StatusNotFound, `{"error":"not found"}`},
		{http.StatusInternalServerError, `{"error":"server error"}`},
		{http.StatusServiceUnavailable, `{"error":"maintenance"}`},
		{http.StatusNoContent, ``},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer upstream.Close()

			h := newTestProxyHandler(upstream.URL, false)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(`{"name":""}`))
			rec := httptest.NewRecorder()

			if err := h.Handle(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestProxyHandler_Handle_EmptyJSONBodyNotForwarded(t *testing.T) {
	for _, body := range []string{`{}`, `[]`, " { } "} {
		t.Run(body, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ := io.ReadAll(r.Body)
				if len(got) != 0 {
					t.Errorf("upstream body = %q, want empty", got)
				}
				if ct := r.Header.Get("Content-Type"); ct != "" {
					t.Errorf("upstream Content-Type = %q, want none", ct)
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer upstream.Close()

			h := newTestProxyHandler(upstream.URL, false)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			if err := h.Handle(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestProxyHandler_writeSuccess_EmptyBody(t *testing.T) {
	h := newTestProxyHandler("http://backend:3000", false)

	for _, status := range []int{http.StatusNoContent, http.StatusNotModified, http.StatusOK} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodDelete, "/api/products/1", http.NoBody)
			rec := httptest.NewRecorder()

			err := h.writeSuccess(e.NewContext(req, rec), &model.Success{StatusCode: status, Header: http.Header{}})
			if err != nil {
				t.Fatalf("writeSuccess() error = %v", err)
			}
			if rec.Code != status {
				t.Errorf("status = %d, want %d", rec.Code, status)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
		})
	}
}

func TestProxyHandler_Handle_ConnectionRefused(t *testing.T) {
	h := newTestProxyHandler("http://"+closedAddr(t), false)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(method, "/api/products", strings.NewReader(`{"name":"x","price":1}`))
			rec := httptest.NewRecorder()

			if err := h.Handle(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
			if rec.Body.String() != unavailableJSON {
				t.Errorf("body = %s, want %s", rec.Body.String(), unavailableJSON)
			}
		})
	}
}

func TestProxyHandler_Handle_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	h := newTestProxyHandler(upstream.URL, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
	if rec.Body.String() != timeoutJSON {
		t.Errorf("body = %s, want %s", rec.Body.String(), timeoutJSON)
	}
}

func TestProxyHandler_Handle_UnknownFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		_ = conn.Close()
	}))
	defer upstream.Close()

	h := newTestProxyHandler(upstream.URL, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if rec.Body.String() != badGatewayJSON {
		t.Errorf("body = %s, want %s", rec.Body.String(), badGatewayJSON)
	}
}

func TestProxyHandler_Handle_QueryAndForwardedHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "limit=10&sort=price" {
			t.Errorf("raw query = %q, want %q", r.URL.RawQuery, "limit=10&sort=price")
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want %q", got, "10")
		}
		if got := r.URL.Query().Get("sort"); got != "price" {
			t.Errorf("sort = %q, want %q", got, "price")
		}
		if got := r.Header.Get("X-Forwarded-For"); got != "192.0.2.1" {
			t.Errorf("X-Forwarded-For = %q, want %q", got, "192.0.2.1")
		}
		if got := r.Header.Get("X-Forwarded-Proto"); got != "http" {
			t.Errorf("X-Forwarded-Proto = %q, want %q", got, "http")
		}
		for _, leaked := range []string{"Authorization", "Cookie", "Cache-Control", "X-Custom"} {
			if r.Header.Get(leaked) != "" {
				t.Errorf("header %q should not be forwarded", leaked)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(upstream.URL, false)

	e := echo.New()
	e.IPExtractor = echo.ExtractIPDirect()
	req := httptest.NewRequest(http.MethodGet, "/api/products?limit=10&sort=price", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Custom", "1")
	req.Header.Set("X-Forwarded-Proto", "https") // untrusted, ignored
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProxyHandler_Handle_TrustedProxyHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Forwarded-For"); got != "203.0.113.9" {
			t.Errorf("X-Forwarded-For = %q, want %q", got, "203.0.113.9")
		}
		if got := r.Header.Get("X-Forwarded-Proto"); got != "https" {
			t.Errorf("X-Forwarded-Proto = %q, want %q", got, "https")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(upstream.URL, true)

	e := echo.New()
	e.IPExtractor = echo.ExtractIPFromXFFHeader(echo.TrustLoopback(true), echo.TrustPrivateNet(true))
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	req.RemoteAddr = "10.0.0.2:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}

func TestProxyHandler_Handle_ResponseHeaderAllowList(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "2")
		w.Header().Set("Set-Cookie", "session=abc")
		w.Header().Set("X-Powered-By", "Express")
		w.Header().Set("Etag", `W/"2-l9Fw4VUO7kr8CvBlt4zaMCqXZ0w"`)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(upstream.URL, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if got := rec.Header().Get("Content-Length"); got != "2" {
		t.Errorf("Content-Length = %q, want %q", got, "2")
	}
	for _, dropped := range []string{"Set-Cookie", "X-Powered-By", "Etag"} {
		if got := rec.Header().Get(dropped); got != "" {
			t.Errorf("%s = %q, should not be relayed", dropped, got)
		}
	}
}

func TestProxyHandler_writeFailure_AfterCommit(t *testing.T) {
	h := newTestProxyHandler("http://backend:3000", false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	c.Response().WriteHeader(http.StatusOK)
	_, _ = c.Response().Write([]byte(`[`))

	err := h.writeFailure(c, &model.Failure{Kind: model.FailureTimeout})
	if err == nil {
		t.Fatal("writeFailure() expected error after commit, got nil")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want the already-sent %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `[` {
		t.Errorf("body = %q; nothing may be written after commit", rec.Body.String())
	}
}

func TestProxyHandler_writeFailure_UpstreamErrorResponse(t *testing.T) {
	h := newTestProxyHandler("http://backend:3000", false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/products", http.NoBody)
	rec := httptest.NewRecorder()

	err := h.writeFailure(e.NewContext(req, rec), &model.Failure{
		Kind:       model.FailureUpstreamErrorResponse,
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"error":"Invalid data"}`),
	})
	if err != nil {
		t.Fatalf("writeFailure() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "Invalid data" {
		t.Errorf("error = %q, want %q", body["error"], "Invalid data")
	}
}

func TestReadBody_TooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/products", io.LimitReader(zeroReader{}, client.MaxBodyBytes+1))

	_, err := readBody(req)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("readBody() error = %v, want 413 HTTPError", err)
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	e := echo.New()
	e.IPExtractor = func(*http.Request) string { return "" }
	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	req.RemoteAddr = "198.51.100.4:5555"

	if got := clientIP(e.NewContext(req, httptest.NewRecorder())); got != "198.51.100.4" {
		t.Errorf("clientIP() = %q, want %q", got, "198.51.100.4")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
