package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/campusdesk/campusdesk/internal/auth"
	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/upstream"
	"github.com/campusdesk/campusdesk/internal/view"
	_ "github.com/campusdesk/campusdesk/testing"
)

const cookieName = "test_session"

// fakeUpstream accepts admin@school.test and staff@school.test with the
// password "secret".
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	roles := map[string]string{"admin@school.test": "Super_Admin", "staff@school.test": "Staff"}
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		role, ok := roles[body.Email]
		if !ok || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "token", Value: body.Email, Path: "/"})
		_, _ = w.Write([]byte(`{"user":{"_id":"u1","name":"Robin","email":"` + body.Email + `","role":"` + role + `"}}`))
	})
	r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("token")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user":{"_id":"u1","name":"Robin","email":"` + c.Value + `","role":"` + roles[c.Value] + `"}}`))
	})
	r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/staff-permissions/my-permissions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"staffPermission":{"permissions":{"students":{"canRead":true}}}}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	router   http.Handler
	registry *console.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := fakeUpstream(t)
	client, err := upstream.NewClient(api.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("upstream client: %v", err)
	}
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	sessionManager := shared.NewSessionManager(redisClient, cookieName, "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	registry := console.NewRegistry(console.Config{
		Monitor:       authz.DefaultMonitorConfig(),
		BootstrapWait: time.Second,
		StateTTL:      time.Hour,
	}, client, redisClient, nil)
	t.Cleanup(registry.Close)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessionManager.Load(r.Context(), r)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	})
	r.Use(registry.Middleware)
	auth.NewHandler(nil, templates, sessionManager, csrfManager, registry).MountRoutes(r)
	r.Route("/session", auth.NewSessionHandler(nil).MountRoutes)
	return &harness{router: r, registry: registry}
}

func (h *harness) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "sess-" + t.Name()})
	res := httptest.NewRecorder()
	h.router.ServeHTTP(res, req)
	return res
}

func TestLoginPage(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodGet, "/login?next=%2Fsuperadmin%2Fstudents", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	body := res.Body.String()
	if !strings.Contains(body, "<form") {
		t.Fatalf("expected login form in body")
	}
	if !strings.Contains(body, `value="/superadmin/students"`) {
		t.Fatalf("expected next path to be carried by the form")
	}
}

func TestLoginRequiresBothFields(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodPost, "/login", url.Values{"email": {"admin@school.test"}})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Please enter both email and password.") {
		t.Fatalf("expected missing credentials message")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodPost, "/login", url.Values{"email": {"admin@school.test"}, "password": {"wrongpass"}})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Invalid credentials") {
		t.Fatalf("expected upstream error message in response")
	}
	v, err := h.registry.Visitor(context.Background(), "sess-"+t.Name())
	if err != nil {
		t.Fatalf("visitor: %v", err)
	}
	snap := v.Snapshot()
	if snap.Identity.Authenticated() || snap.Admin.Error == "" || snap.Staff.Error == "" {
		t.Fatalf("expected anonymous visitor with both scheme errors, got %+v", snap)
	}
}

func TestLoginAdminRedirectsHome(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodPost, "/login", url.Values{"email": {"admin@school.test"}, "password": {"secret"}})
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if loc := res.Header().Get("Location"); loc != authz.AdminHomePath {
		t.Fatalf("expected redirect to %s, got %s", authz.AdminHomePath, loc)
	}

	// A second visit to the login page bounces to the role home.
	res = h.do(t, http.MethodGet, "/login", nil)
	if loc := res.Header().Get("Location"); res.Code != http.StatusSeeOther || loc != authz.AdminHomePath {
		t.Fatalf("expected authenticated visitor to be redirected home, got %d %s", res.Code, loc)
	}
}

func TestLoginStaffHonoursLocalNext(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodPost, "/login", url.Values{
		"email":    {"staff@school.test"},
		"password": {"secret"},
		"next":     {"/staff/students"},
	})
	if loc := res.Header().Get("Location"); res.Code != http.StatusSeeOther || loc != "/staff/students" {
		t.Fatalf("expected redirect to /staff/students, got %d %s", res.Code, loc)
	}
}

func TestLoginIgnoresForeignNext(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodPost, "/login", url.Values{
		"email":    {"staff@school.test"},
		"password": {"secret"},
		"next":     {"//evil.test/phish"},
	})
	if loc := res.Header().Get("Location"); loc != authz.StaffHomePath {
		t.Fatalf("expected redirect to %s, got %s", authz.StaffHomePath, loc)
	}
}

func TestRootRedirects(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodGet, "/", nil)
	if loc := res.Header().Get("Location"); loc != authz.LoginPath {
		t.Fatalf("expected anonymous root to redirect to login, got %s", loc)
	}
}

func TestLogoutForgetsVisitor(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/login", url.Values{"email": {"admin@school.test"}, "password": {"secret"}})
	if h.registry.Len() != 1 {
		t.Fatalf("expected one visitor, got %d", h.registry.Len())
	}
	res := h.do(t, http.MethodPost, "/logout", nil)
	if loc := res.Header().Get("Location"); res.Code != http.StatusSeeOther || loc != authz.LoginPath {
		t.Fatalf("expected redirect to login, got %d %s", res.Code, loc)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("expected visitor to be forgotten")
	}
}

func TestSessionStatusAndExtend(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodPost, "/session/extend", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous extend, got %d", res.Code)
	}

	h.do(t, http.MethodPost, "/login", url.Values{"email": {"staff@school.test"}, "password": {"secret"}})
	res = h.do(t, http.MethodGet, "/session/status", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var status authz.Status
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Authenticated || status.Role != authz.RoleStaff {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestSessionLogoutNow(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/login", url.Values{"email": {"admin@school.test"}, "password": {"secret"}})
	res := h.do(t, http.MethodPost, "/session/logout-now", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), authz.SessionExpiredNotice) {
		t.Fatalf("expected expiry notice, got %s", res.Body.String())
	}
	v, _ := h.registry.Visitor(context.Background(), "sess-"+t.Name())
	if v.Identity().Authenticated() {
		t.Fatalf("expected visitor to be logged out")
	}
}

func TestSessionEventsPushForcedLogout(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/login", url.Values{"email": {"admin@school.test"}, "password": {"secret"}})

	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)
	header := http.Header{}
	header.Set("Cookie", cookieName+"=sess-"+t.Name())
	header.Set("Origin", srv.URL)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/session/events", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type   string       `json:"type"`
		Status authz.Status `json:"status"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if first.Type != "status" || !first.Status.Authenticated {
		t.Fatalf("unexpected first frame %+v", first)
	}

	v, _ := h.registry.Visitor(context.Background(), "sess-"+t.Name())
	v.Monitor.LogoutNow(context.Background())

	var evt authz.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Kind != authz.EventForcedLogout || evt.Message != authz.SessionExpiredNotice {
		t.Fatalf("unexpected event %+v", evt)
	}
}
