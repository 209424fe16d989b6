// Package consoletest wires a visitor registry, session store and template
// engine against an in-memory upstream for handler tests.
package consoletest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/platform/cache"
	"github.com/campusdesk/campusdesk/internal/rbac"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/upstream/upstreamtest"
	"github.com/campusdesk/campusdesk/internal/view"
)

// CookieName is the console session cookie used by the harness.
const CookieName = "test_session"

// Harness bundles the collaborators every console handler needs.
type Harness struct {
	API       *upstreamtest.Server
	Miniredis *miniredis.Miniredis
	Redis     *redis.Client
	Sessions  *shared.SessionManager
	CSRF      *shared.CSRFManager
	Templates *view.Engine
	Registry  *console.Registry
	RBAC      rbac.Middleware
	Counts    *cache.Cache
}

// New builds a harness whose resources are released with t.
func New(t testing.TB) *Harness {
	t.Helper()
	api := upstreamtest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	registry := console.NewRegistry(console.Config{
		Monitor:       authz.DefaultMonitorConfig(),
		BootstrapWait: time.Second,
		IdleEvict:     30 * time.Minute,
		StateTTL:      time.Hour,
	}, api.Client(t), rdb, nil)
	t.Cleanup(registry.Close)

	return &Harness{
		API:       api,
		Miniredis: mr,
		Redis:     rdb,
		Sessions:  shared.NewSessionManager(rdb, CookieName, "secret", time.Hour, false),
		CSRF:      shared.NewCSRFManager("csrfsecret"),
		Templates: templates,
		Registry:  registry,
		RBAC:      rbac.Middleware{Templates: templates, BootstrapWait: time.Second},
		Counts:    cache.NewCache(rdb, "counts", time.Minute),
	}
}

// Router returns a chi router that loads the session and visitor before
// handing over to the routes installed by mount. Sessions are committed
// after every request.
func (h *Harness) Router(t testing.TB, mount func(chi.Router)) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := h.Sessions.Load(r.Context(), r)
			if err != nil {
				t.Errorf("load session: %v", err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			next.ServeHTTP(w, r.WithContext(ctx))
			if err := h.Sessions.Commit(ctx, w, r, sess); err != nil {
				t.Errorf("commit session: %v", err)
			}
		})
	})
	r.Use(h.Registry.Middleware)
	mount(r)
	return r
}

// Login signs sessionID in through the negotiator, as the login form would.
func (h *Harness) Login(t testing.TB, sessionID, email, password string) authz.Identity {
	t.Helper()
	ctx := context.Background()
	v, err := h.Registry.Visitor(ctx, sessionID)
	if err != nil {
		t.Fatalf("visitor: %v", err)
	}
	if !v.AwaitBootstrap(ctx, 2*time.Second) {
		t.Fatalf("visitor %s did not finish bootstrapping", sessionID)
	}
	identity, err := v.Negotiator.Negotiate(ctx, email, password)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return identity
}

// Do serves one request on handler as sessionID. A non-nil form is posted
// url-encoded.
func Do(t testing.TB, handler http.Handler, sessionID, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sessionID})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

// Flash pops the pending flash message of sessionID.
func (h *Harness) Flash(t testing.TB, sessionID string) *shared.FlashMessage {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sessionID})
	sess, err := h.Sessions.Load(req.Context(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return sess.PopFlash()
}
