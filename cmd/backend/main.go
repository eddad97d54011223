package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"product-gateway/internal/config"
	"product-gateway/internal/handler"
	"product-gateway/internal/metrics"
	"product-gateway/internal/server"
	"product-gateway/internal/store"
)

const defaultPort = 3000

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("backend"),
		kong.Description("Product backend serving /api/products from SQLite."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			server.NewLogger,
			metrics.New,
			server.NewEcho,
			fx.Annotate(openRepository, fx.As(new(handler.ProductStore))),
			handler.NewProductHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterBackendRoutes,
			handler.RegisterMetricsRoute,
			warnConfigPermissions,
			startServer,
		),
	).Run()
}

func openRepository(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*store.Repository, error) {
	db, err := store.Open(context.Background(), cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("product store ready", "path", cfg.Store.Path)

	repo := store.NewRepository(db)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	server.Start(lc, e, cfg.Server.AddrOr(defaultPort), logger)
}
