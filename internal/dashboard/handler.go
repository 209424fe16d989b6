package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/platform/cache"
	"github.com/campusdesk/campusdesk/internal/rbac"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/view"
)

// Counts are the totals shown on the administrator dashboard.
type Counts struct {
	Students        int `json:"students"`
	Staff           int `json:"staff"`
	StudentAccounts int `json:"student_accounts"`
	Grants          int `json:"grants"`
}

// CapabilityChip is one granted/denied badge on the staff dashboard.
type CapabilityChip struct {
	Capability authz.Capability
	Label      string
	Granted    bool
}

// Handler renders both role dashboards.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	counts    *cache.Cache
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, counts *cache.Cache) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, templates: templates, csrf: csrf, rbac: rbac, counts: counts}
}

// MountRoutes registers the dashboards.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireRoles(authz.RoleSuperAdmin)).Get(authz.AdminHomePath, h.adminDashboard)
	r.With(h.rbac.RequireRoles(authz.RoleStaff)).Get(authz.StaffHomePath, h.staffDashboard)
}

func (h *Handler) adminDashboard(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	data := map[string]any{}
	status := http.StatusOK

	var counts Counts
	key, err := h.counts.BuildKey(r.Context(), "dashboard", v.ID)
	if err == nil {
		err = h.counts.FetchJSON(r.Context(), key, &counts, func(ctx context.Context) (any, error) {
			return loadCounts(ctx, v)
		})
	}
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("dashboard counts", slog.Any("error", err))
		data["Error"] = authz.MessageOf(err, "Failed to load dashboard totals")
		status = http.StatusBadGateway
	} else {
		data["Counts"] = counts
	}
	h.render(w, r, "pages/dashboard/admin.html", "Dashboard", data, status)
}

func loadCounts(ctx context.Context, v *console.Visitor) (Counts, error) {
	var counts Counts
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		students, err := v.Conn.ListStudents(ctx)
		counts.Students = len(students)
		return err
	})
	g.Go(func() error {
		staff, err := v.Conn.ListUsers(ctx, authz.RoleStaff)
		counts.Staff = len(staff)
		return err
	})
	g.Go(func() error {
		accounts, err := v.Conn.ListUsers(ctx, authz.RoleStudent)
		counts.StudentAccounts = len(accounts)
		return err
	})
	g.Go(func() error {
		grants, err := v.Conn.ListStaffPermissions(ctx)
		counts.Grants = len(grants)
		return err
	})
	if err := g.Wait(); err != nil {
		return Counts{}, err
	}
	return counts, nil
}

// Chips lists every student capability with its granted state.
func Chips(grant authz.CapabilityGrant) []CapabilityChip {
	caps := authz.StudentCapabilities()
	chips := make([]CapabilityChip, 0, len(caps))
	for _, c := range caps {
		chips = append(chips, CapabilityChip{Capability: c, Label: c.Label(), Granted: grant.Allows(c)})
	}
	return chips
}

func (h *Handler) staffDashboard(w http.ResponseWriter, r *http.Request) {
	identity := console.VisitorFromContext(r.Context()).Identity()
	grant := identity.Grant()
	user, _ := identity.User()
	h.render(w, r, "pages/dashboard/staff.html", "Staff Dashboard", map[string]any{
		"User":          user,
		"Chips":         Chips(grant),
		"NoPermissions": len(grant.Active()) == 0,
		"CanRead":       grant.Allows(authz.CapStudentsRead),
	}, http.StatusOK)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any, status int) {
	v := console.VisitorFromContext(r.Context())
	viewData := view.NewTemplateData(r, h.csrf, v.Identity(), title, data)
	if err := h.templates.RenderStatus(w, template, status, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
