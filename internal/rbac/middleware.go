package rbac

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/view"
)

// Middleware wires route guards for console screens.
type Middleware struct {
	Templates     *view.Engine
	Logger        *slog.Logger
	BootstrapWait time.Duration
}

// RequireRoles admits visitors whose role is one of roles. With no roles it
// only requires an authenticated identity.
func (m Middleware) RequireRoles(roles ...authz.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := console.VisitorFromContext(r.Context())
			if v == nil {
				m.logger().Error("rbac: visitor missing", slog.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			v.AwaitBootstrap(r.Context(), m.BootstrapWait)

			decision := authz.Authorize(v.Snapshot(), roles)
			switch decision.Kind {
			case authz.DecisionAllow:
				next.ServeHTTP(w, r)
			case authz.DecisionLoading:
				m.renderLoading(w, r)
			case authz.DecisionRedirectToLogin:
				http.Redirect(w, r, LoginLocation(r), http.StatusSeeOther)
			default:
				http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			}
		})
	}
}

// RequireCapability refuses staff visitors whose grant denies c. It must be
// installed behind RequireRoles. Administrators pass every check.
func (m Middleware) RequireCapability(c authz.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := console.VisitorFromContext(r.Context())
			if v == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			identity := v.Identity()
			if identity.Can(c) {
				next.ServeHTTP(w, r)
				return
			}
			m.logger().Info("capability denied",
				slog.String("capability", string(c)),
				slog.String("role", string(identity.Role())),
				slog.String("path", r.URL.Path))
			if r.Method == http.MethodGet {
				m.renderForbidden(w, r, identity, c)
				return
			}
			shared.RedirectWithFlash(w, r, authz.HomePath(identity.Role()), shared.FlashDanger,
				"You do not have permission to "+strings.ToLower(c.Label())+".")
		})
	}
}

// LoginLocation builds the login redirect preserving the attempted page.
func LoginLocation(r *http.Request) string {
	if r.Method != http.MethodGet {
		return authz.LoginPath
	}
	from := r.URL.RequestURI()
	if from == "" || from == "/" {
		return authz.LoginPath
	}
	return authz.LoginPath + "?next=" + url.QueryEscape(from)
}

// SafeNext returns next when it is a local path, otherwise fallback.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	if u, err := url.Parse(next); err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	if next == authz.LoginPath || strings.HasPrefix(next, authz.LoginPath+"?") {
		return fallback
	}
	return next
}

func (m Middleware) renderLoading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "Checking your session, please retry.", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	data := view.TemplateData{Title: "Loading", CurrentPath: r.URL.RequestURI()}
	if err := m.Templates.Render(w, "pages/loading.html", data); err != nil {
		m.logger().Error("render loading", slog.Any("error", err))
	}
}

func (m Middleware) renderForbidden(w http.ResponseWriter, r *http.Request, identity authz.Identity, c authz.Capability) {
	data := view.TemplateData{
		Title:       "Access denied",
		CurrentPath: r.URL.Path,
		Identity:    identity,
		Data:        map[string]any{"Capability": c, "Home": authz.HomePath(identity.Role())},
	}
	if err := m.Templates.RenderStatus(w, "pages/forbidden.html", http.StatusForbidden, data); err != nil {
		m.logger().Error("render forbidden", slog.Any("error", err))
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
