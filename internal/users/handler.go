package users

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/platform/cache"
	"github.com/campusdesk/campusdesk/internal/rbac"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/upstream"
	"github.com/campusdesk/campusdesk/internal/view"
)

const (
	staffPath          = "/superadmin/staffs"
	studentAccountPath = "/superadmin/student-accounts"
)

var accountMessages = map[string]string{
	"Name.required":     "Name is required",
	"Email.required":    "Email is required",
	"Email":             "Please enter a valid email address",
	"Password.required": "Password is required",
	"Password":          "Password must be at least 6 characters",
}

// Handler manages staff and student account screens.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	counts    *cache.Cache
	validator *validator.Validate
}

// NewHandler builds Handler instance. counts is bumped after every mutation
// so dashboard totals refresh.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, counts *cache.Cache) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, templates: templates, csrf: csrf, rbac: rbac, counts: counts, validator: validator.New()}
}

// MountRoutes registers account routes under /superadmin.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(authz.RoleSuperAdmin))
		r.Route("/staffs", func(r chi.Router) {
			r.Get("/", h.listStaff)
			r.Get("/new", h.showCreateStaffForm)
			r.Post("/", h.createStaff)
			r.Get("/{id}/edit", h.showEditStaffForm)
			r.Post("/{id}", h.updateStaff)
			r.Post("/{id}/delete", h.deleteStaff)
		})
		r.Route("/student-accounts", func(r chi.Router) {
			r.Get("/", h.listStudentAccounts)
			r.Post("/", h.createStudentAccount)
			r.Post("/{id}/delete", h.deleteStudentAccount)
		})
	})
}

type formErrors map[string]string

type accountForm struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"omitempty,min=6"`
	IsActive bool
}

func parseAccountForm(r *http.Request) accountForm {
	return accountForm{
		Name:     strings.TrimSpace(r.PostFormValue("name")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		IsActive: r.PostFormValue("isActive") != "",
	}
}

func (h *Handler) validate(form accountForm, requirePassword bool) formErrors {
	errs := formErrors(shared.ValidationMessages(h.validator.Struct(form), accountMessages))
	if requirePassword && form.Password == "" {
		errs["Password"] = accountMessages["Password.required"]
	}
	return errs
}

func (f accountForm) account(role authz.Role) upstream.Account {
	return upstream.Account{Name: f.Name, Email: f.Email, Password: f.Password, Role: role, IsActive: f.IsActive}
}

func (h *Handler) listStaff(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	staff, err := v.Conn.ListUsers(r.Context(), authz.RoleStaff)
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("list staff", slog.Any("error", err))
		h.render(w, r, "pages/staffs/list.html", "Staff", map[string]any{"Errors": formErrors{"general": authz.MessageOf(err, "Failed to fetch staff")}}, http.StatusBadGateway)
		return
	}
	h.render(w, r, "pages/staffs/list.html", "Staff", map[string]any{"Staff": staff}, http.StatusOK)
}

func (h *Handler) showCreateStaffForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/staffs/form.html", "Add Staff", map[string]any{
		"Mode":   "add",
		"Form":   accountForm{IsActive: true},
		"Errors": formErrors{},
	}, http.StatusOK)
}

func (h *Handler) createStaff(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := parseAccountForm(r)
	if errs := h.validate(form, true); len(errs) > 0 {
		h.render(w, r, "pages/staffs/form.html", "Add Staff", map[string]any{"Mode": "add", "Form": form, "Errors": errs}, http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	if _, err := v.Conn.AddUser(r.Context(), form.account(authz.RoleStaff)); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("add staff", slog.Any("error", err))
		form.Password = ""
		h.render(w, r, "pages/staffs/form.html", "Add Staff", map[string]any{
			"Mode":   "add",
			"Form":   form,
			"Errors": formErrors{"general": authz.MessageOf(err, "Failed to add staff")},
		}, http.StatusBadRequest)
		return
	}
	h.bumpCounts(r)
	shared.RedirectWithFlash(w, r, staffPath, shared.FlashSuccess, "Staff added successfully!")
}

func (h *Handler) findStaff(r *http.Request, id string) (authz.User, bool, error) {
	v := console.VisitorFromContext(r.Context())
	staff, err := v.Conn.ListUsers(r.Context(), authz.RoleStaff)
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		return authz.User{}, false, err
	}
	i := slices.IndexFunc(staff, func(u authz.User) bool { return u.ID == id })
	if i < 0 {
		return authz.User{}, false, nil
	}
	return staff[i], true, nil
}

func (h *Handler) showEditStaffForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, ok, err := h.findStaff(r, id)
	if err != nil {
		shared.RedirectWithFlash(w, r, staffPath, shared.FlashDanger, authz.MessageOf(err, "Failed to fetch staff"))
		return
	}
	if !ok {
		shared.RedirectWithFlash(w, r, staffPath, shared.FlashWarning, "Staff member not found")
		return
	}
	form := accountForm{Name: user.Name, Email: user.Email, IsActive: user.IsActive}
	h.render(w, r, "pages/staffs/form.html", "Edit Staff", map[string]any{"Mode": "edit", "ID": id, "Form": form, "Errors": formErrors{}}, http.StatusOK)
}

func (h *Handler) updateStaff(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	form := parseAccountForm(r)
	if errs := h.validate(form, false); len(errs) > 0 {
		h.render(w, r, "pages/staffs/form.html", "Edit Staff", map[string]any{"Mode": "edit", "ID": id, "Form": form, "Errors": errs}, http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	if _, err := v.Conn.UpdateUser(r.Context(), id, form.account(authz.RoleStaff)); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("update staff", slog.Any("error", err))
		shared.RedirectWithFlash(w, r, staffPath, shared.FlashDanger, authz.MessageOf(err, "Failed to update staff"))
		return
	}
	shared.RedirectWithFlash(w, r, staffPath, shared.FlashSuccess, "Staff updated successfully!")
}

func (h *Handler) deleteStaff(w http.ResponseWriter, r *http.Request) {
	h.deleteAccount(w, r, staffPath, "staff")
}

func (h *Handler) listStudentAccounts(w http.ResponseWriter, r *http.Request) {
	h.renderStudentAccounts(w, r, accountForm{IsActive: true}, formErrors{}, http.StatusOK)
}

func (h *Handler) renderStudentAccounts(w http.ResponseWriter, r *http.Request, form accountForm, errs formErrors, status int) {
	v := console.VisitorFromContext(r.Context())
	students, err := v.Conn.ListUsers(r.Context(), authz.RoleStudent)
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("list student accounts", slog.Any("error", err))
		errs["general"] = authz.MessageOf(err, "Failed to fetch students")
		if status == http.StatusOK {
			status = http.StatusBadGateway
		}
	}
	h.render(w, r, "pages/student_accounts/list.html", "Student Accounts", map[string]any{
		"Accounts": students,
		"Form":     form,
		"Errors":   errs,
	}, status)
}

func (h *Handler) createStudentAccount(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := parseAccountForm(r)
	form.IsActive = true
	if errs := h.validate(form, true); len(errs) > 0 {
		form.Password = ""
		h.renderStudentAccounts(w, r, form, errs, http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	if _, err := v.Conn.AddUser(r.Context(), form.account(authz.RoleStudent)); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("add student account", slog.Any("error", err))
		form.Password = ""
		h.renderStudentAccounts(w, r, form, formErrors{"general": authz.MessageOf(err, "Failed to add user")}, http.StatusBadRequest)
		return
	}
	h.bumpCounts(r)
	shared.RedirectWithFlash(w, r, studentAccountPath, shared.FlashSuccess, "Student added successfully!")
}

func (h *Handler) deleteStudentAccount(w http.ResponseWriter, r *http.Request) {
	h.deleteAccount(w, r, studentAccountPath, "student account")
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request, location, noun string) {
	v := console.VisitorFromContext(r.Context())
	if err := v.Conn.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		h.logger.Warn("delete account", slog.String("kind", noun), slog.Any("error", err))
		shared.RedirectWithFlash(w, r, location, shared.FlashDanger, authz.MessageOf(err, "Failed to delete "+noun))
		return
	}
	h.bumpCounts(r)
	shared.RedirectWithFlash(w, r, location, shared.FlashSuccess, "User deleted successfully!")
}

func (h *Handler) bumpCounts(r *http.Request) {
	if err := h.counts.Bump(r.Context()); err != nil {
		h.logger.Warn("invalidate dashboard counts", slog.Any("error", err))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any, status int) {
	v := console.VisitorFromContext(r.Context())
	viewData := view.NewTemplateData(r, h.csrf, v.Identity(), title, data)
	if err := h.templates.RenderStatus(w, template, status, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

