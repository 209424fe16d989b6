package authz

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// SessionExpiredNotice is shown after every forced logout.
const SessionExpiredNotice = "Session expired. Please log in again."

// MonitorConfig holds the monitor timings.
type MonitorConfig struct {
	RevalidateInterval time.Duration
	IdleThreshold      time.Duration
	WarningCountdown   time.Duration
	WatchdogDelay      time.Duration
	WatchdogPoll       time.Duration
}

// DefaultMonitorConfig returns the production timings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		RevalidateInterval: 5 * time.Minute,
		IdleThreshold:      25 * time.Minute,
		WarningCountdown:   60 * time.Second,
		WatchdogDelay:      60 * time.Second,
		WatchdogPoll:       30 * time.Second,
	}
}

// LogoutReason labels why a session was ended by the monitor.
type LogoutReason string

const (
	ReasonRevalidation LogoutReason = "revalidation"
	ReasonVisibility   LogoutReason = "visibility"
	ReasonUpstream     LogoutReason = "upstream_unauthorized"
	ReasonIdle         LogoutReason = "idle"
	ReasonLogoutNow    LogoutReason = "logout_now"
)

// Outcome labels a revalidation result.
type Outcome string

const (
	OutcomeValid     Outcome = "valid"
	OutcomeExpired   Outcome = "expired"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDiscarded Outcome = "discarded"
)

// EventKind names a monitor event pushed to the browser.
type EventKind string

const (
	EventWarning      EventKind = "warning"
	EventCountdown    EventKind = "countdown"
	EventExtended     EventKind = "extended"
	EventForcedLogout EventKind = "forced_logout"
)

// Event is delivered to monitor subscribers.
type Event struct {
	Kind        EventKind `json:"type"`
	SecondsLeft int       `json:"seconds_left,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Status summarises the monitor state for the status endpoint.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	Kind          string `json:"kind"`
	Role          Role   `json:"role,omitempty"`
	Checking      bool   `json:"checking"`
	Warning       bool   `json:"warning"`
	SecondsLeft   int    `json:"seconds_left"`
	Notice        string `json:"notice,omitempty"`
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock replaces the real clock.
func WithMonitorClock(c clock.WithTicker) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithCredentialCheck installs a check reporting whether the visitor holds any
// upstream credentials. Bootstrap skips the identity call when it reports false.
func WithCredentialCheck(fn func(ctx context.Context) bool) MonitorOption {
	return func(m *Monitor) { m.hasCredentials = fn }
}

// WithLogoutHook runs after a forced logout cleared local state. The context
// outlives the caller.
func WithLogoutHook(fn func(ctx context.Context, reason LogoutReason)) MonitorOption {
	return func(m *Monitor) { m.onLogout = fn }
}

// MonitorObserver receives monitor measurements.
type MonitorObserver interface {
	Revalidated(outcome Outcome)
	ForcedLogout(reason LogoutReason)
	ActiveChanged(active bool)
}

// WithMonitorObserver installs a measurement sink.
func WithMonitorObserver(o MonitorObserver) MonitorOption {
	return func(m *Monitor) { m.observer = o }
}

// Monitor keeps one visitor's session fresh. It restores the identity on
// bootstrap, revalidates it while active, watches for inactivity and performs
// forced logouts. All timers belong to the goroutines started by Start and
// stop with Stop.
type Monitor struct {
	cfg      MonitorConfig
	store    *Store
	gateway  Gateway
	activity ActivityStore
	clock    clock.WithTicker
	logger   *slog.Logger

	hasCredentials func(ctx context.Context) bool
	onLogout       func(ctx context.Context, reason LogoutReason)
	observer       MonitorObserver

	inFlight atomic.Bool

	mu          sync.Mutex
	warning     bool
	secondsLeft int
	notice      string
	nextSub     int
	subs        map[int]chan Event

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitor builds a stopped monitor.
func NewMonitor(cfg MonitorConfig, store *Store, gateway Gateway, activity ActivityStore, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:      cfg,
		store:    store,
		gateway:  gateway,
		activity: activity,
		clock:    clock.RealClock{},
		logger:   logger,
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap restores an upstream session on first contact. Failures are
// silent and leave the visitor anonymous. The checking flag is always cleared.
func (m *Monitor) Bootstrap(ctx context.Context) {
	m.store.SetChecking(true)
	defer m.store.SetChecking(false)

	if m.hasCredentials != nil && !m.hasCredentials(ctx) {
		return
	}
	gen := m.store.Generation()
	user, err := m.gateway.Me(ctx)
	if err != nil {
		m.logger.Debug("no upstream session to restore", slog.Any("error", err))
		return
	}

	switch user.Role {
	case RoleSuperAdmin:
		if m.store.Generation() != gen {
			return
		}
		m.store.ClearStaff()
		m.store.SetAdminAuthenticated(user)
	case RoleStaff:
		body, fetchErr := m.gateway.MyPermissions(ctx)
		if fetchErr != nil {
			m.logger.Info("staff permissions unavailable, using default grant",
				slog.String("user_id", user.ID), slog.Any("error", fetchErr))
		}
		grant := Resolve(body, fetchErr)
		if m.store.Generation() != gen {
			return
		}
		m.store.ClearAdmin()
		m.store.SetStaffAuthenticated(user, grant)
	default:
		m.logger.Debug("upstream session has no console role", slog.String("role", string(user.Role)))
		return
	}
	m.touch(ctx)
}

// Start launches the lifecycle loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	changed := make(chan struct{}, 1)
	unsubscribe := m.store.Subscribe(func(Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(runCtx, changed, unsubscribe, done)
}

// Stop halts every goroutine and timer the monitor owns and waits for them.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether Start has been called without a matching Stop.
func (m *Monitor) Running() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.cancel != nil
}

func (m *Monitor) run(ctx context.Context, changed <-chan struct{}, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()

	var (
		stopActive func()
		activeGen  uint64
	)
	deactivate := func() {
		if stopActive == nil {
			return
		}
		stopActive()
		stopActive = nil
		m.clearWarning()
		if m.observer != nil {
			m.observer.ActiveChanged(false)
		}
	}
	reconcile := func() {
		snap := m.store.Snapshot()
		if !snap.Identity.Authenticated() {
			deactivate()
			return
		}
		if stopActive != nil && activeGen == snap.Generation {
			return
		}
		// A new identity re-enters the active state with fresh timers.
		deactivate()
		activeGen = snap.Generation
		stopActive = m.startActive(ctx)
		if m.observer != nil {
			m.observer.ActiveChanged(true)
		}
	}

	reconcile()
	for {
		select {
		case <-ctx.Done():
			deactivate()
			return
		case <-changed:
			reconcile()
		}
	}
}

func (m *Monitor) startActive(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go m.active(ctx, done)
	return func() {
		cancel()
		<-done
	}
}

func (m *Monitor) active(ctx context.Context, done chan struct{}) {
	defer close(done)

	revalidate := m.clock.NewTicker(m.cfg.RevalidateInterval)
	defer revalidate.Stop()
	delay := m.clock.NewTimer(m.cfg.WatchdogDelay)
	defer delay.Stop()

	var poll, countdown clock.Ticker
	var pollC, countdownC <-chan time.Time
	defer func() {
		if poll != nil {
			poll.Stop()
		}
		if countdown != nil {
			countdown.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-revalidate.C():
			m.Revalidate(ctx, ReasonRevalidation)
		case <-delay.C():
			poll = m.clock.NewTicker(m.cfg.WatchdogPoll)
			pollC = poll.C()
		case <-pollC:
			if m.checkIdle(ctx) && countdown == nil {
				countdown = m.clock.NewTicker(time.Second)
				countdownC = countdown.C()
			}
		case <-countdownC:
			if !m.tickCountdown(ctx) {
				countdown.Stop()
				countdown, countdownC = nil, nil
			}
		}
	}
}

// Revalidate asks the upstream whether the session is still valid. A check
// already in flight makes this call a no-op, and a result arriving after the
// identity changed is discarded.
func (m *Monitor) Revalidate(ctx context.Context, reason LogoutReason) Outcome {
	outcome := m.revalidate(ctx, reason)
	if m.observer != nil {
		m.observer.Revalidated(outcome)
	}
	return outcome
}

func (m *Monitor) revalidate(ctx context.Context, reason LogoutReason) Outcome {
	if !m.store.Current().Authenticated() {
		return OutcomeSkipped
	}
	if !m.inFlight.CompareAndSwap(false, true) {
		return OutcomeSkipped
	}
	defer m.inFlight.Store(false)

	gen := m.store.Generation()
	_, err := m.gateway.Me(ctx)
	if ctx.Err() != nil || m.store.Generation() != gen {
		return OutcomeDiscarded
	}
	if err == nil || answered(err) {
		return OutcomeValid
	}
	if expiresSession(err) {
		m.logger.Info("upstream session no longer valid",
			slog.String("reason", string(reason)), slog.Any("error", err))
		m.ForceLogout(ctx, reason)
		return OutcomeExpired
	}
	m.logger.Warn("session check returned unexpected status", slog.Any("error", err))
	return OutcomeIgnored
}

// VisibilityChanged revalidates immediately when the page becomes visible
// while a session is active.
func (m *Monitor) VisibilityChanged(ctx context.Context, visible bool) Outcome {
	if !visible {
		return OutcomeSkipped
	}
	return m.Revalidate(ctx, ReasonVisibility)
}

// ReportUnauthorized is called when an upstream call made for the visitor was
// rejected; the session is revalidated at once.
func (m *Monitor) ReportUnauthorized(ctx context.Context) Outcome {
	return m.Revalidate(ctx, ReasonUpstream)
}

// RecordActivity stamps the activity timestamp while authenticated.
func (m *Monitor) RecordActivity(ctx context.Context) error {
	if !m.store.Current().Authenticated() {
		return nil
	}
	return m.activity.Touch(ctx, m.clock.Now())
}

// Extend answers the inactivity warning: activity is stamped and the
// countdown cancelled.
func (m *Monitor) Extend(ctx context.Context) error {
	if !m.store.Current().Authenticated() {
		return nil
	}
	if err := m.activity.Touch(ctx, m.clock.Now()); err != nil {
		return err
	}
	m.mu.Lock()
	wasWarning := m.warning
	m.warning = false
	m.secondsLeft = 0
	m.mu.Unlock()
	if wasWarning {
		m.emit(Event{Kind: EventExtended})
	}
	return nil
}

// LogoutNow ends the session from the warning dialog.
func (m *Monitor) LogoutNow(ctx context.Context) {
	m.ForceLogout(ctx, ReasonLogoutNow)
}

// ForceLogout clears local state, notifies subscribers and hands the
// upstream logout to the logout hook. Only the first of concurrent calls for
// one identity has any effect.
func (m *Monitor) ForceLogout(ctx context.Context, reason LogoutReason) {
	if !m.store.Revoke() {
		return
	}
	detached := context.WithoutCancel(ctx)
	if err := m.activity.Clear(detached); err != nil {
		m.logger.Warn("clear activity timestamp", slog.Any("error", err))
	}

	m.mu.Lock()
	m.warning = false
	m.secondsLeft = 0
	m.notice = SessionExpiredNotice
	m.mu.Unlock()

	m.logger.Info("forced logout", slog.String("reason", string(reason)))
	if m.observer != nil {
		m.observer.ForcedLogout(reason)
	}
	m.emit(Event{Kind: EventForcedLogout, Message: SessionExpiredNotice})
	if m.onLogout != nil {
		m.onLogout(detached, reason)
	}
}

// checkIdle raises the warning when the visitor has been inactive longer than
// the idle threshold. It reports whether a warning is showing.
func (m *Monitor) checkIdle(ctx context.Context) bool {
	m.mu.Lock()
	warning := m.warning
	m.mu.Unlock()
	if warning {
		return true
	}
	if !m.store.Current().Authenticated() {
		return false
	}

	last, ok, err := m.activity.Last(ctx)
	if err != nil {
		m.logger.Warn("read activity timestamp", slog.Any("error", err))
		return false
	}
	if !ok || m.clock.Since(last) <= m.cfg.IdleThreshold {
		return false
	}

	seconds := int(m.cfg.WarningCountdown / time.Second)
	m.mu.Lock()
	m.warning = true
	m.secondsLeft = seconds
	m.mu.Unlock()
	m.emit(Event{Kind: EventWarning, SecondsLeft: seconds})
	return true
}

// tickCountdown decrements the warning countdown by one second and forces a
// logout when it reaches zero. It reports whether the countdown continues.
func (m *Monitor) tickCountdown(ctx context.Context) bool {
	m.mu.Lock()
	if !m.warning {
		m.mu.Unlock()
		return false
	}
	m.secondsLeft--
	left := m.secondsLeft
	m.mu.Unlock()

	if left <= 0 {
		m.ForceLogout(ctx, ReasonIdle)
		return false
	}
	m.emit(Event{Kind: EventCountdown, SecondsLeft: left})
	return true
}

// Status reports the current state without consuming the notice.
func (m *Monitor) Status() Status {
	snap := m.store.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Authenticated: snap.Identity.Authenticated(),
		Kind:          snap.Identity.Kind().String(),
		Role:          snap.Identity.Role(),
		Checking:      snap.Checking,
		Warning:       m.warning,
		SecondsLeft:   m.secondsLeft,
		Notice:        m.notice,
	}
}

// TakeNotice returns and clears the pending forced-logout notice.
func (m *Monitor) TakeNotice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	notice := m.notice
	m.notice = ""
	return notice
}

// Subscribe returns a channel of monitor events and a cancel function. Slow
// subscribers miss events rather than block the monitor.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Monitor) emit(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (m *Monitor) clearWarning() {
	m.mu.Lock()
	m.warning = false
	m.secondsLeft = 0
	m.mu.Unlock()
}

func (m *Monitor) touch(ctx context.Context) {
	if m.activity == nil {
		return
	}
	if err := m.activity.Touch(ctx, m.clock.Now()); err != nil {
		m.logger.Warn("stamp activity", slog.Any("error", err))
	}
}
