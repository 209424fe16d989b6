package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/upstream"
)

// Visitor is the server-side state of one console session: its identity
// store, session monitor, login negotiator and upstream connection.
type Visitor struct {
	ID         string
	Store      *authz.Store
	Monitor    *authz.Monitor
	Negotiator *authz.Negotiator
	Conn       *upstream.Conn

	jar      *upstream.Jar
	origin   *url.URL
	activity authz.ActivityStore
	logger   *slog.Logger

	bootOnce sync.Once
	booted   chan struct{}
	lastSeen atomic.Int64
}

// Snapshot returns the current authorization state.
func (v *Visitor) Snapshot() authz.Snapshot {
	return v.Store.Snapshot()
}

// Identity returns the canonical identity.
func (v *Visitor) Identity() authz.Identity {
	return v.Store.Current()
}

// AwaitBootstrap waits up to wait for the session restore to finish and
// reports whether it did.
func (v *Visitor) AwaitBootstrap(ctx context.Context, wait time.Duration) bool {
	select {
	case <-v.booted:
		return true
	default:
	}
	if wait <= 0 {
		return false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-v.booted:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// SignOut ends the session on request of the visitor. The upstream logout is
// attempted first; local state is cleared regardless of its outcome.
func (v *Visitor) SignOut(ctx context.Context) error {
	var errs []error
	if v.jar.HasCredentials() {
		if err := v.Conn.Logout(ctx); err != nil {
			v.logger.Warn("upstream logout", slog.String("visitor", v.ID), slog.Any("error", err))
		}
	}
	v.Store.Clear()
	if err := v.activity.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := v.jar.Reset(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ReportUpstreamError forwards rejected upstream calls to the monitor so an
// expired session is noticed without waiting for the next check.
func (v *Visitor) ReportUpstreamError(ctx context.Context, err error) {
	if upstream.IsUnauthorized(err) {
		v.Monitor.ReportUnauthorized(ctx)
	}
}

func (v *Visitor) bootstrap(ctx context.Context, timeout time.Duration) {
	v.bootOnce.Do(func() {
		defer close(v.booted)
		bctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v.Monitor.Bootstrap(bctx)
	})
}

func (v *Visitor) seen(at time.Time) {
	v.lastSeen.Store(at.UnixNano())
}

func (v *Visitor) idleSince() time.Time {
	return time.Unix(0, v.lastSeen.Load())
}

// forcedLogout is installed as the monitor's logout hook. The jar is emptied
// so the next bootstrap cannot restore the session, and the upstream logout
// is handed to the notifier with the cookies that were held.
func (v *Visitor) forcedLogout(notifier LogoutNotifier) func(ctx context.Context, reason authz.LogoutReason) {
	return func(ctx context.Context, reason authz.LogoutReason) {
		cookies := v.jar.Cookies(v.origin)
		if err := v.jar.Reset(ctx); err != nil {
			v.logger.Warn("reset upstream cookies", slog.String("visitor", v.ID), slog.Any("error", err))
		}
		if len(cookies) == 0 || notifier == nil {
			return
		}
		req := LogoutRequest{SessionID: v.ID, Cookies: cookies, Reason: reason}
		if err := notifier.NotifyLogout(ctx, req); err != nil {
			v.logger.Warn("schedule upstream logout", slog.String("visitor", v.ID), slog.Any("error", err))
		}
	}
}

// LogoutRequest carries what is needed to end an upstream session after the
// visitor's own state is gone.
type LogoutRequest struct {
	SessionID string
	Cookies   []*http.Cookie
	Reason    authz.LogoutReason
}

// LogoutNotifier performs or schedules a best-effort upstream logout.
type LogoutNotifier interface {
	NotifyLogout(ctx context.Context, req LogoutRequest) error
}

// DirectLogout calls the upstream from a background goroutine.
type DirectLogout struct {
	Client  *upstream.Client
	Logger  *slog.Logger
	Timeout time.Duration
}

// NotifyLogout implements LogoutNotifier.
func (d DirectLogout) NotifyLogout(ctx context.Context, req LogoutRequest) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := d.Client.LogoutWith(lctx, req.Cookies); err != nil {
			logger.Debug("upstream logout after forced logout", slog.String("visitor", req.SessionID), slog.Any("error", err))
		}
	}()
	return nil
}
