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
	"github.com/campusdesk/campusdesk/internal/auth"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/dashboard"
	"github.com/campusdesk/campusdesk/internal/observability"
	"github.com/campusdesk/campusdesk/internal/platform/cache"
	"github.com/campusdesk/campusdesk/internal/rbac"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/students"
	"github.com/campusdesk/campusdesk/internal/upstream"
	"github.com/campusdesk/campusdesk/internal/users"
	"github.com/campusdesk/campusdesk/internal/view"
	"github.com/campusdesk/campusdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", slog.Any("error", err))
		}
	}()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	upstreamClient, err := upstream.NewClient(cfg.APIBaseURL, cfg.UpstreamTimeout,
		upstream.WithTransport(metrics.InstrumentUpstream))
	if err != nil {
		logger.Error("upstream client", slog.Any("error", err))
		os.Exit(1)
	}
	sessionMetrics := observability.NewSessionMetrics(metrics.Registerer())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var (
		notifier  console.LogoutNotifier = console.DirectLogout{Client: upstreamClient, Logger: logger, Timeout: cfg.UpstreamTimeout}
		inspector *asynq.Inspector
	)
	if cfg.AsynqEnabled {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("asynq client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		notifier = jobClient
		inspector = asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
	}

	visitors := console.NewRegistry(cfg.RegistryConfig(), upstreamClient, redisClient, logger,
		console.WithNotifier(notifier),
		console.WithMetrics(sessionMetrics),
	)
	defer visitors.Close()
	go visitors.RunJanitor(ctx, cfg.JanitorInterval)

	sessionManager := shared.NewSessionManager(redisClient, "campusdesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	rbacMiddleware := rbac.Middleware{Templates: templates, Logger: logger, BootstrapWait: cfg.BootstrapWait}
	counts := cache.NewCache(redisClient, "counts", cfg.CountsCacheTTL)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Visitors:           visitors,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, templates, sessionManager, csrfManager, visitors),
		SessionHandler:     auth.NewSessionHandler(logger),
		DashboardHandler:   dashboard.NewHandler(logger, templates, csrfManager, rbacMiddleware, counts),
		UsersHandler:       users.NewHandler(logger, templates, csrfManager, rbacMiddleware, counts),
		StudentsHandler:    students.NewHandler(logger, templates, csrfManager, rbacMiddleware, counts),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, templates, csrfManager, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("upstream", upstreamClient.BaseURL().String()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
