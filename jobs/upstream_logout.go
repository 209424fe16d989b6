package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/campusdesk/campusdesk/internal/jobs"
	"github.com/campusdesk/campusdesk/internal/upstream"
)

// UpstreamLogoutJob ends upstream sessions abandoned by a forced logout.
type UpstreamLogoutJob struct {
	client  *upstream.Client
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	timeout time.Duration

	finalAttempt func(context.Context) bool
}

// NewUpstreamLogoutJob wires the job dependencies. A nil metrics value
// disables instrumentation.
func NewUpstreamLogoutJob(client *upstream.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *UpstreamLogoutJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpstreamLogoutJob{
		client:       client,
		logger:       logger,
		metrics:      metrics,
		timeout:      10 * time.Second,
		finalAttempt: jobmetrics.LastAttempt,
	}
}

// Handle processes TaskSessionUpstreamLogout tasks. Payloads carry live
// upstream cookies, so a run that gives up completes the task instead of
// failing it: asynq deletes completed tasks but keeps archived ones.
func (j *UpstreamLogoutJob) Handle(ctx context.Context, t *asynq.Task) error {
	final := j.finalAttempt(ctx)
	tracker := j.metrics.TrackRun(TaskSessionUpstreamLogout, final)
	var payload UpstreamLogoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
		j.logger.Warn("upstream logout payload unreadable", slog.Any("error", err))
		return nil
	}
	if len(payload.Cookies) == 0 {
		return tracker.End(nil)
	}

	lctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	err := j.client.LogoutWith(lctx, payload.HTTPCookies())
	var status *upstream.StatusError
	if errors.As(err, &status) && status.Code < http.StatusInternalServerError {
		// The upstream already considers the session gone.
		j.logger.Debug("upstream logout rejected", slog.String("visitor", payload.SessionID), slog.Int("status", status.Code))
		return tracker.End(nil)
	}
	if err != nil && final {
		_ = tracker.End(err)
		j.logger.Error("upstream logout dropped", slog.String("visitor", payload.SessionID), slog.String("reason", payload.Reason), slog.Any("error", err))
		return nil
	}
	if err != nil {
		j.logger.Warn("upstream logout", slog.String("visitor", payload.SessionID), slog.String("reason", payload.Reason), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("upstream session closed", slog.String("visitor", payload.SessionID), slog.String("reason", payload.Reason))
	return tracker.End(nil)
}
