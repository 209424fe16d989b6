package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campusdesk/campusdesk/internal/app"
	jobmetrics "github.com/campusdesk/campusdesk/internal/jobs"
	"github.com/campusdesk/campusdesk/internal/observability"
	"github.com/campusdesk/campusdesk/internal/upstream"
	"github.com/campusdesk/campusdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	shutdownTracing, err := observability.SetupTracing(cfg.TraceStdout)
	if err != nil {
		logger.Error("setup tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	metrics := observability.NewMetrics()
	upstreamClient, err := upstream.NewClient(cfg.APIBaseURL, cfg.UpstreamTimeout,
		upstream.WithTransport(metrics.InstrumentUpstream))
	if err != nil {
		logger.Error("upstream client", slog.Any("error", err))
		os.Exit(1)
	}
	logoutJob := jobs.NewUpstreamLogoutJob(upstreamClient, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.AsynqConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionUpstreamLogout, Handler: logoutJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.Int("concurrency", cfg.AsynqConcurrency))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
