package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/observability"
	"github.com/campusdesk/campusdesk/internal/upstream"
)

// Config tunes the visitor registry.
type Config struct {
	Monitor          authz.MonitorConfig
	BootstrapWait    time.Duration
	BootstrapTimeout time.Duration
	IdleEvict        time.Duration
	StateTTL         time.Duration
}

// Option customises a Registry.
type Option func(*Registry)

// WithNotifier sets the upstream logout notifier used after forced logouts.
func WithNotifier(n LogoutNotifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithMetrics records session metrics.
func WithMetrics(m *observability.SessionMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces the real clock for monitors and eviction.
func WithClock(c clock.WithTicker) Option {
	return func(r *Registry) { r.clock = c }
}

// Registry owns one Visitor per console session id.
type Registry struct {
	cfg      Config
	client   *upstream.Client
	redis    *redis.Client
	notifier LogoutNotifier
	metrics  *observability.SessionMetrics
	logger   *slog.Logger
	clock    clock.WithTicker

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	visitors map[string]*Visitor
}

// NewRegistry builds an empty registry. Monitors started by the registry run
// until Forget, eviction or Close.
func NewRegistry(cfg Config, client *upstream.Client, rdb *redis.Client, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:      cfg,
		client:   client,
		redis:    rdb,
		logger:   logger,
		clock:    clock.RealClock{},
		ctx:      ctx,
		cancel:   cancel,
		visitors: make(map[string]*Visitor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BootstrapWait is how long a first request waits for the session restore.
func (r *Registry) BootstrapWait() time.Duration {
	return r.cfg.BootstrapWait
}

// Visitor returns the visitor for sessionID, creating it and starting its
// bootstrap on first use.
func (r *Registry) Visitor(ctx context.Context, sessionID string) (*Visitor, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("console: empty session id")
	}
	now := r.clock.Now()

	r.mu.Lock()
	if v, ok := r.visitors[sessionID]; ok {
		r.mu.Unlock()
		v.seen(now)
		return v, nil
	}
	r.mu.Unlock()

	v, err := r.newVisitor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	v.seen(now)

	r.mu.Lock()
	if existing, ok := r.visitors[sessionID]; ok {
		r.mu.Unlock()
		existing.seen(now)
		return existing, nil
	}
	r.visitors[sessionID] = v
	count := len(r.visitors)
	r.mu.Unlock()

	r.metrics.SetVisitors(count)
	v.Monitor.Start(r.ctx)
	go v.bootstrap(r.ctx, r.cfg.BootstrapTimeout)
	return v, nil
}

func (r *Registry) newVisitor(ctx context.Context, sessionID string) (*Visitor, error) {
	origin := r.client.BaseURL()
	logger := r.logger.With(slog.String("visitor", shortID(sessionID)))

	jar, err := upstream.NewJar(ctx, origin, upstream.NewRedisCookieStore(r.redis, sessionID, r.cfg.StateTTL), logger)
	if err != nil {
		return nil, fmt.Errorf("load upstream cookies: %w", err)
	}
	conn := r.client.Conn(jar)
	store := authz.NewStore()
	// Guards show the loading page until the bootstrap goroutine finishes.
	store.SetChecking(true)
	activity := authz.NewRedisActivity(r.redis, sessionID, r.cfg.StateTTL)

	v := &Visitor{
		ID:       sessionID,
		Store:    store,
		Conn:     conn,
		jar:      jar,
		origin:   origin,
		activity: activity,
		logger:   logger,
		booted:   make(chan struct{}),
	}
	v.Negotiator = authz.NewNegotiator(store, conn, activity, logger,
		authz.WithNegotiatorClock(r.clock),
		authz.WithLoginObserver(r.metrics.LoginAttempt),
	)
	v.Monitor = authz.NewMonitor(r.cfg.Monitor, store, conn, activity, logger,
		authz.WithMonitorClock(r.clock),
		authz.WithMonitorObserver(r.metrics),
		authz.WithCredentialCheck(func(context.Context) bool { return jar.HasCredentials() }),
		authz.WithLogoutHook(v.forcedLogout(r.notifier)),
	)
	return v, nil
}

// Forget stops and drops the visitor of sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	v, ok := r.visitors[sessionID]
	delete(r.visitors, sessionID)
	count := len(r.visitors)
	r.mu.Unlock()
	if !ok {
		return
	}
	v.Monitor.Stop()
	r.metrics.SetVisitors(count)
}

// Len reports the number of visitors held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// Sweep evicts anonymous visitors idle for longer than IdleEvict and any
// visitor idle for longer than StateTTL. It returns the number evicted.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	var evicted []*Visitor

	r.mu.Lock()
	for id, v := range r.visitors {
		idle := now.Sub(v.idleSince())
		anonymous := !v.Store.Current().Authenticated()
		if (anonymous && r.cfg.IdleEvict > 0 && idle > r.cfg.IdleEvict) ||
			(r.cfg.StateTTL > 0 && idle > r.cfg.StateTTL) {
			delete(r.visitors, id)
			evicted = append(evicted, v)
		}
	}
	count := len(r.visitors)
	r.mu.Unlock()

	for _, v := range evicted {
		v.Monitor.Stop()
	}
	if len(evicted) > 0 {
		r.metrics.SetVisitors(count)
		r.logger.Debug("evicted idle visitors", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C():
			r.Sweep()
		}
	}
}

// Close stops every monitor.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	visitors := make([]*Visitor, 0, len(r.visitors))
	for id, v := range r.visitors {
		visitors = append(visitors, v)
		delete(r.visitors, id)
	}
	r.mu.Unlock()
	for _, v := range visitors {
		v.Monitor.Stop()
	}
	r.metrics.SetVisitors(0)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
