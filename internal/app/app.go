// v0
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/circuitbreaker"
	"github.com/redmozaic77-design/DashboardSCTK/internal/config"
	"github.com/redmozaic77-design/DashboardSCTK/internal/derive"
	"github.com/redmozaic77-design/DashboardSCTK/internal/engine"
	"github.com/redmozaic77-design/DashboardSCTK/internal/forward"
	"github.com/redmozaic77-design/DashboardSCTK/internal/history"
	"github.com/redmozaic77-design/DashboardSCTK/internal/httpapi"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
	"github.com/redmozaic77-design/DashboardSCTK/internal/qcfeed"
	"github.com/redmozaic77-design/DashboardSCTK/internal/schedule"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
	"github.com/redmozaic77-design/DashboardSCTK/internal/source"
)

const kafkaBuffer = 256

// Application wires configuration, logging, ingestion and the HTTP API of
// the telemetry service.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
	metrics *observability.Metrics
	server  *http.Server
	health  *httpapi.HealthState

	engine  *engine.Engine
	source  source.DataSource
	qc      *qcfeed.Reconciler
	roster  *schedule.Loader
	kafka   *forward.KafkaPublisher
	loops   []func(context.Context)
	initial series.Selection
	warm    bool
}

// New builds a fully wired service instance from cfg.
func New(cfg config.Config) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	bigKey, ok := metric.Parse(cfg.DefaultBigKey)
	if !ok {
		return nil, fmt.Errorf("unknown default big series key %q", cfg.DefaultBigKey)
	}
	logPath := filepath.Clean(cfg.LogFilePath)
	if logPath == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := newLogger(lf)
	metrics := observability.NewMetrics()
	health := httpapi.NewHealthState()
	a := &Application{
		cfg:     cfg,
		logger:  logger,
		logFile: lf,
		metrics: metrics,
		health:  health,
		initial: series.Selection{Key: bigKey, Hours: cfg.DefaultBigHours},
	}

	baseClient := &http.Client{Timeout: cfg.FetchTimeout}
	breakerCfg := circuitbreaker.Config{
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessesToClose: cfg.BreakerSuccesses,
	}
	httpClient := func(name string) *circuitbreaker.HTTPClient {
		return circuitbreaker.NewHTTPClient(a.newBreaker(name, breakerCfg), baseClient)
	}

	store := series.NewStore(series.StoreConfig{
		Quantity: series.TileConfig{Width: cfg.TileWidth, Capacity: cfg.TileCapacity, Layout: series.LayoutSeconds},
		QC:       series.TileConfig{Width: cfg.QCTileWidth, Capacity: cfg.QCTileCapacity, Layout: series.LayoutMinutes},
		Location: cfg.Location,
	})
	reservoir := derive.Reservoir{
		MaxLevel:       cfg.ReservoirMaxLevel,
		FloorLevel:     cfg.ReservoirFloorLevel,
		LitersPerMeter: cfg.ReservoirLitersPerMeter,
		Deadband:       cfg.TrendDeadband,
	}

	opts := engine.Options{
		Store:            store,
		Big:              series.NewBig(cfg.BigCapacity, cfg.Location),
		Reservoir:        reservoir,
		Ring:             history.NewRing(cfg.HistoryRetention),
		QueueSize:        cfg.IngestQueueSize,
		ResetOnReconnect: cfg.ResetOnReconnect,
		Logger:           logger,
		Metrics:          metrics,
	}
	if cfg.HistoryURL != "" {
		opts.Fetcher = history.HTTPFetcher{BaseURL: cfg.HistoryURL, Client: httpClient("history")}
		a.warm = true
	}

	if cfg.QCFeedURL != "" {
		a.qc = qcfeed.NewReconciler(
			qcfeed.HTTPFetcher{URL: cfg.QCFeedURL, Client: httpClient("qc_feed")},
			qcfeed.Options{
				Interval: cfg.QCPullInterval,
				Timeout:  cfg.FetchTimeout,
				Location: cfg.Location,
				Logger:   logger.With(slog.String("component", "qc_feed")),
				Metrics:  metrics,
				OnRecord: func(rec metric.Record) {
					if a.engine != nil {
						_ = a.engine.Submit(rec, engine.OriginQCFeed)
					}
				},
			})
		opts.QCHistory = a.qc
		a.loops = append(a.loops, a.qc.Run)
		a.warm = true
	}

	if strings.TrimSpace(cfg.SchedulePath) != "" {
		a.roster = schedule.NewLoader(schedule.Options{
			Path:     cfg.SchedulePath,
			Interval: cfg.ScheduleReloadInterval,
			Logger:   logger.With(slog.String("component", "schedule")),
			Metrics:  metrics,
		})
		a.loops = append(a.loops, a.roster.Run)
	}

	if cfg.WebhookURL != "" {
		hook := forward.NewWebhook(cfg.WebhookURL, httpClient("webhook"), cfg.WebhookInterval,
			logger.With(slog.String("component", "webhook")), metrics)
		opts.Sinks = append(opts.Sinks, hook)
		a.loops = append(a.loops, hook.Run)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		writer := forward.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		guarded := circuitbreaker.NewCBKafkaWriter(writer, a.newBreaker("kafka", breakerCfg), circuitbreaker.Retry{
			Attempts: 3,
			Timeout:  5 * time.Second,
			Backoff:  500 * time.Millisecond,
		})
		a.kafka = forward.NewKafkaPublisher(guarded, writer, kafkaBuffer,
			logger.With(slog.String("component", "kafka")), metrics)
		opts.Sinks = append(opts.Sinks, a.kafka)
		a.loops = append(a.loops, a.kafka.Run)
		logger.Info("kafka_forwarding_enabled",
			slog.String("topic", cfg.KafkaTopic),
			slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
		)
	}

	eng, err := engine.New(opts)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("engine init: %w", err)
	}
	a.engine = eng

	src, err := source.New(cfg, source.Deps{
		Logger:  logger,
		Metrics: metrics,
		Client:  httpClient("poll"),
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("source init: %w", err)
	}
	a.source = src

	deps := httpapi.Deps{
		Engine:    eng,
		Health:    health,
		Metrics:   metrics,
		Reservoir: reservoir,
		Location:  cfg.Location,
		KeepAlive: cfg.EventsKeepAlive,
		Logger:    logger.With(slog.String("component", "http")),
	}
	if a.qc != nil {
		deps.QC = a.qc
	}
	if a.roster != nil {
		deps.Schedule = a.roster
	}
	a.server = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           httpapi.NewRouter(deps),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	logger.Info("app_configured",
		slog.String("source", src.Name()),
		slog.String("source_mode", string(cfg.SourceMode)),
		slog.Bool("qc_feed", a.qc != nil),
		slog.Bool("schedule", a.roster != nil),
		slog.Bool("remote_history", cfg.HistoryURL != ""),
		slog.Int("sinks", len(opts.Sinks)),
	)
	return a, nil
}

func (a *Application) newBreaker(name string, cfg circuitbreaker.Config) *circuitbreaker.Breaker {
	logger := a.logger.With(slog.String("component", "breaker"))
	return circuitbreaker.New(name, cfg, logger, circuitbreaker.WithStateHook(func(name string, from, to circuitbreaker.State) {
		a.metrics.BreakerState(name, int(to))
		logger.Info("breaker_state_changed",
			slog.String("target", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}))
}

// Logger exposes the configured logger.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run blocks until ctx is cancelled or the HTTP server fails, then shuts
// everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineCh := make(chan error, 1)
	go func() {
		engineCh <- a.engine.Run(ctx)
	}()

	var wg sync.WaitGroup
	for _, loop := range a.loops {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(loop)
	}

	if err := a.source.Start(ctx, a.engine.RecordFunc(engine.OriginLive), a.engine.SetStatus); err != nil {
		cancel()
		wg.Wait()
		<-engineCh
		return fmt.Errorf("start source: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.prime(ctx)
	}()

	httpCh := make(chan error, 1)
	go func() {
		a.health.SetReady(true)
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		httpCh <- a.server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-httpCh:
		httpCh = nil
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http_server_error", slog.Any("err", err))
			runErr = err
		}
	case err := <-engineCh:
		engineCh = nil
		if err != nil {
			a.logger.Error("engine_error", slog.Any("err", err))
			runErr = err
		}
	case <-ctx.Done():
		a.logger.Info("shutdown_signal")
	}

	a.health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("server_shutdown_failed", slog.Any("err", err))
		if runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
	}
	shutdownCancel()
	if httpCh != nil {
		if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && runErr == nil {
			runErr = err
		}
	}

	if err := a.source.Stop(); err != nil {
		a.logger.Warn("source_stop_failed", slog.Any("err", err))
	}
	cancel()
	wg.Wait()
	if engineCh != nil {
		if err := <-engineCh; err != nil && runErr == nil {
			runErr = err
		}
	}
	a.logger.Info("server_closed")
	return runErr
}

// prime seeds tiles from history and loads the initial big series.
func (a *Application) prime(ctx context.Context) {
	if a.qc != nil {
		_ = a.qc.PullOnce(ctx)
	}
	if a.warm {
		a.engine.Warm(ctx,
			map[metric.Kind]time.Duration{
				metric.KindQuantity: a.cfg.TileWidth,
				metric.KindDerived:  a.cfg.TileWidth,
				metric.KindQC:       a.cfg.QCTileWidth,
			},
			map[metric.Kind]int{
				metric.KindQuantity: a.cfg.TileCapacity,
				metric.KindDerived:  a.cfg.TileCapacity,
				metric.KindQC:       a.cfg.QCTileCapacity,
			})
	}
	if _, err := a.engine.SelectBig(ctx, a.initial); err != nil && ctx.Err() == nil {
		a.logger.Warn("initial_big_series_failed", slog.String("key", string(a.initial.Key)), slog.Any("err", err))
	}
}

// Close releases the Kafka writer and the log file.
func (a *Application) Close() error {
	var errs []error
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka: %w", err))
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
