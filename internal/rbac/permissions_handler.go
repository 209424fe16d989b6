package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/upstream"
	"github.com/campusdesk/campusdesk/internal/view"
)

const permissionsPath = "/superadmin/permissions"

// PermissionsHandler manages staff capability grants.
type PermissionsHandler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      Middleware
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, templates: templates, csrf: csrf, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(authz.RoleSuperAdmin))
		r.Get("/", h.listPermissions)
		r.Post("/", h.assignPermissions)
		r.Get("/{staffID}/edit", h.editPermissions)
		r.Post("/{staffID}", h.updatePermissions)
		r.Post("/{staffID}/delete", h.removePermissions)
	})
}

type formErrors map[string]string

type grantForm struct {
	StaffID string `validate:"required"`
	Grant   authz.CapabilityGrant
}

// PermissionRow is one line of the permissions table.
type PermissionRow struct {
	StaffID   string
	StaffName string
	Email     string
	Grant     authz.CapabilityGrant
	Active    []authz.Capability
}

func parseGrant(r *http.Request) authz.CapabilityGrant {
	checked := func(name string) bool { return r.PostFormValue(name) != "" }
	return authz.CapabilityGrant{Students: authz.Actions{
		CanCreate: checked("canCreate"),
		CanRead:   checked("canRead"),
		CanUpdate: checked("canUpdate"),
		CanDelete: checked("canDelete"),
	}}
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, formErrors{}, http.StatusOK)
}

func (h *PermissionsHandler) renderList(w http.ResponseWriter, r *http.Request, errs formErrors, status int) {
	v := console.VisitorFromContext(r.Context())
	perms, err := v.Conn.ListStaffPermissions(r.Context())
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("list staff permissions", slog.Any("error", err))
		errs["general"] = authz.MessageOf(err, "Failed to load staff permissions")
		h.render(w, r, "pages/permissions/list.html", map[string]any{"Errors": errs}, http.StatusBadGateway)
		return
	}
	staff, err := v.Conn.ListUsers(r.Context(), authz.RoleStaff)
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("list staff for permissions", slog.Any("error", err))
	}

	rows := make([]PermissionRow, 0, len(perms))
	assigned := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		row := PermissionRow{StaffID: p.StaffID, Grant: p.Permissions, Active: p.Permissions.Active()}
		if p.Staff != nil {
			row.StaffName, row.Email = p.Staff.Name, p.Staff.Email
		} else if i := slices.IndexFunc(staff, func(u authz.User) bool { return u.ID == p.StaffID }); i >= 0 {
			row.StaffName, row.Email = staff[i].Name, staff[i].Email
		}
		rows = append(rows, row)
		assigned[p.StaffID] = struct{}{}
	}
	unassigned := make([]authz.User, 0, len(staff))
	for _, u := range staff {
		if _, ok := assigned[u.ID]; !ok {
			unassigned = append(unassigned, u)
		}
	}
	h.render(w, r, "pages/permissions/list.html", map[string]any{
		"Rows":       rows,
		"Unassigned": unassigned,
		"Errors":     errs,
	}, status)
}

func (h *PermissionsHandler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := grantForm{StaffID: r.PostFormValue("staff_id"), Grant: parseGrant(r)}
	if err := h.validator.Struct(form); err != nil {
		h.renderList(w, r, formErrors{"StaffID": "Select a staff member."}, http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	if _, err := v.Conn.AssignStaffPermission(r.Context(), form.StaffID, form.Grant); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("assign staff permission", slog.Any("error", err))
		shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashDanger, authz.MessageOf(err, "Failed to assign permissions"))
		return
	}
	shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashSuccess, "Permissions assigned")
}

func (h *PermissionsHandler) editPermissions(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	staffID := chi.URLParam(r, "staffID")
	perm, err := v.Conn.GetStaffPermission(r.Context(), staffID)
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		if errors.Is(err, upstream.ErrNotFound) {
			shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashWarning, "No permissions assigned to this staff member")
			return
		}
		shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashDanger, authz.MessageOf(err, "Failed to load permissions"))
		return
	}
	if perm.StaffID == "" {
		perm.StaffID = staffID
	}
	h.render(w, r, "pages/permissions/edit.html", map[string]any{"Permission": perm}, http.StatusOK)
}

func (h *PermissionsHandler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	staffID := chi.URLParam(r, "staffID")
	if _, err := v.Conn.UpdateStaffPermission(r.Context(), staffID, parseGrant(r)); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("update staff permission", slog.Any("error", err))
		shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashDanger, authz.MessageOf(err, "Failed to update permissions"))
		return
	}
	shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashSuccess, "Permissions updated")
}

func (h *PermissionsHandler) removePermissions(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	if err := v.Conn.RemoveStaffPermission(r.Context(), chi.URLParam(r, "staffID")); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("remove staff permission", slog.Any("error", err))
		shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashDanger, authz.MessageOf(err, "Failed to remove permissions"))
		return
	}
	shared.RedirectWithFlash(w, r, permissionsPath, shared.FlashSuccess, "Permissions removed")
}

func (h *PermissionsHandler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	v := console.VisitorFromContext(r.Context())
	viewData := view.NewTemplateData(r, h.csrf, v.Identity(), "Staff Permissions", data)
	if err := h.templates.RenderStatus(w, template, status, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

