package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/metrics"
	"product-gateway/internal/product"
)

// ProductStore persists products for the backend handlers.
type ProductStore interface {
	Create(ctx context.Context, p *product.Product) error
	List(ctx context.Context) ([]product.Product, error)
}

var serverError = map[string]string{"error": "server error"}

// ProductHandler serves the backend's /api/products routes.
type ProductHandler struct {
	store   ProductStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewProductHandler creates a ProductHandler.
// The metrics parameter is optional; pass nil to disable operation counters.
func NewProductHandler(store ProductStore, logger *slog.Logger, m *metrics.Metrics) *ProductHandler {
	return &ProductHandler{
		store:   store,
		logger:  logger.With("component", "product_handler"),
		metrics: m,
		now:     time.Now,
	}
}

// Create validates the request body and stores a new product.
func (h *ProductHandler) Create(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Error("reading request body", "err", err)
		h.record("create", "error")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": product.MsgMalformedBody})
	}

	in, err := product.ParseInput(body)
	if err != nil {
		h.record("create", "invalid")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": product.Message(err)})
	}

	p, err := product.New(in, h.now())
	if err != nil {
		h.logger.Error("creating product", "err", err)
		h.record("create", "error")
		return c.JSON(http.StatusInternalServerError, serverError)
	}

	if err := h.store.Create(c.Request().Context(), p); err != nil {
		h.logger.Error("storing product", "err", err)
		h.record("create", "error")
		return c.JSON(http.StatusInternalServerError, serverError)
	}

	h.record("create", "ok")
	return c.JSON(http.StatusCreated, p)
}

// List returns all products, newest first.
func (h *ProductHandler) List(c echo.Context) error {
	products, err := h.store.List(c.Request().Context())
	if err != nil {
		h.logger.Error("listing products", "err", err)
		h.record("list", "error")
		return c.JSON(http.StatusInternalServerError, serverError)
	}
	if products == nil {
		products = []product.Product{}
	}

	h.record("list", "ok")
	return c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) record(op, result string) {
	if h.metrics != nil {
		h.metrics.ProductOperations.WithLabelValues(op, result).Inc()
	}
}
