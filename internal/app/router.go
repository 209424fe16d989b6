package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campusdesk/campusdesk/internal/auth"
	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/dashboard"
	"github.com/campusdesk/campusdesk/internal/observability"
	"github.com/campusdesk/campusdesk/internal/platform/httpx"
	"github.com/campusdesk/campusdesk/internal/rbac"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/students"
	"github.com/campusdesk/campusdesk/internal/users"
	"github.com/campusdesk/campusdesk/jobs"
	"github.com/campusdesk/campusdesk/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Visitors           *console.Registry
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	SessionHandler     *auth.SessionHandler
	DashboardHandler   *dashboard.Handler
	UsersHandler       *users.Handler
	StudentsHandler    *students.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with CampusDesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	// Everything below runs with a session and the visitor it maps to.
	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(params.Visitors.Middleware)

		params.AuthHandler.MountRoutes(r)
		r.Route("/session", params.SessionHandler.MountRoutes)
		params.DashboardHandler.MountRoutes(r)
		r.Route("/superadmin", func(r chi.Router) {
			params.UsersHandler.MountRoutes(r)
			r.Route("/students", params.StudentsHandler.MountAdminRoutes)
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		})
		r.Route(students.StaffPath, params.StudentsHandler.MountStaffRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireRoles(authz.RoleSuperAdmin))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for 1 hour in browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
