package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/platform/httpx"
)

// Worker runs the session task handlers.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// WorkerConfig collects what the worker needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
}

// NewWorker builds a worker consuming QueueSessions.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("worker: no task handlers registered")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("worker: incomplete handler for %q", h.Type)
		}
		mux.HandleFunc(h.Type, h.Handler)
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{QueueSessions: 1},
		Logger:         slogAdapter{logger: logger.With(slog.String("component", "asynq"))},
		RetryDelayFunc: RetryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			budget, _ := asynq.GetMaxRetry(ctx)
			if retried >= budget || errors.Is(err, asynq.SkipRetry) {
				logger.Error("task dropped", slog.String("type", task.Type()), slog.Int("attempts", retried+1), slog.Any("error", err))
			}
		}),
	})
	return &Worker{server: srv, mux: mux}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// RetryDelay doubles from two seconds and caps at five minutes. The upstream
// is usually down for a short while when logouts fail.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 7 {
		return 5 * time.Minute
	}
	delay := 2 * time.Second << n
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}

// slogAdapter routes asynq's own logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

// Fatal is only called by asynq when the server cannot continue.
func (a slogAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...), slog.Bool("fatal", true))
	panic(fmt.Sprint(args...))
}

// Client queues upstream logouts for the worker.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueUpstreamLogout queues the logout of one upstream session.
func (c *Client) EnqueueUpstreamLogout(ctx context.Context, payload UpstreamLogoutPayload) (*asynq.TaskInfo, error) {
	task, err := NewUpstreamLogoutTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// NotifyLogout implements console.LogoutNotifier. A logout already queued
// for the same session and cookies is not queued twice.
func (c *Client) NotifyLogout(ctx context.Context, req console.LogoutRequest) error {
	_, err := c.EnqueueUpstreamLogout(ctx, PayloadFromRequest(req))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

var _ console.LogoutNotifier = (*Client)(nil)

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler serves queue health to administrators.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler builds the jobs handler. A nil inspector reports an empty
// queue, which is what a console without a worker has.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue    string `json:"queue"`
	Pending  int    `json:"pending"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health := queueHealth{Queue: QueueSessions}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueSessions)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			h.logger.Warn("jobs health", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "queue unavailable")
			return
		}
		if info != nil {
			health.Pending, health.Retry, health.Archived = info.Pending, info.Retry, info.Archived
		}
	}
	httpx.JSON(w, http.StatusOK, health)
}
