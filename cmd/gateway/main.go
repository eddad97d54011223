package main

import (
	"fmt"
	"log/slog"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
	"product-gateway/internal/handler"
	"product-gateway/internal/metrics"
	"product-gateway/internal/server"
	"product-gateway/internal/service"
)

const defaultPort = 8080

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("API gateway forwarding /api requests to the product backend."),
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
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			handler.RegisterMetricsRoute,
			logStartup,
			startServer,
		),
	).Run()
}

func logStartup(cfg *config.Config, logger *slog.Logger) {
	logger.Info("gateway configured", cfg.LogAttrs()...)
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	server.Start(lc, e, cfg.Server.AddrOr(defaultPort), logger)
}
