// v0
// cmd/sctk-telemetry/main.go

// Command sctk-telemetry runs the water treatment telemetry service. It
// ingests live plant readings and the QC feed, keeps the rolling series and
// reservoir state in memory, and serves them over the dashboard HTTP API
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redmozaic77-design/DashboardSCTK/internal/app"
	"github.com/redmozaic77-design/DashboardSCTK/internal/config"
)

// main loads configuration, builds the application and runs it until the
// process is signalled. Startup failures are reported on a stderr bootstrap
// logger because the file logger does not exist yet.
func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("source_mode", string(cfg.SourceMode)),
		slog.String("mqtt_brokers", strings.Join(cfg.MQTTBrokers, ",")),
		slog.String("sse_urls", strings.Join(cfg.SSEURLs, ",")),
		slog.String("qc_feed_url", cfg.QCFeedURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("service_stopped")
}
