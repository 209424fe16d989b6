package students

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
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

// Base paths of the two student screens.
const (
	AdminPath = "/superadmin/students"
	StaffPath = "/staff/students"
)

var studentMessages = map[string]string{
	"Name.required":          "Name is required",
	"Age.required":           "Age is required",
	"Age":                    "Age must be between 3 and 25",
	"Grade.required":         "Grade is required",
	"Grade":                  "Select a grade from the list",
	"Email.required":         "Email is required",
	"Email":                  "Please enter a valid email address",
	"Phone.required":         "Phone is required",
	"ParentName.required":    "Parent name is required",
	"ParentContact.required": "Parent contact is required",
}

// Handler serves student record screens for administrators and staff.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	counts    *cache.Cache
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, counts *cache.Cache) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("grade", func(fl validator.FieldLevel) bool {
		return isGrade(fl.Field().String())
	})
	return &Handler{logger: logger, templates: templates, csrf: csrf, rbac: rbac, counts: counts, validator: v}
}

// MountAdminRoutes registers the administrator screen. Every action is open
// to Super_Admin.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(authz.RoleSuperAdmin))
		h.mount(r, AdminPath, func(authz.Capability) func(http.Handler) http.Handler { return passThrough })
	})
}

// MountStaffRoutes registers the staff screen, gating each action on the
// matching capability.
func (h *Handler) MountStaffRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(authz.RoleStaff))
		h.mount(r, StaffPath, h.rbac.RequireCapability)
	})
}

func passThrough(next http.Handler) http.Handler { return next }

func (h *Handler) mount(r chi.Router, base string, require func(authz.Capability) func(http.Handler) http.Handler) {
	s := screen{Handler: h, base: base}
	r.With(require(authz.CapStudentsRead)).Get("/", s.list)
	r.With(require(authz.CapStudentsCreate)).Get("/new", s.showCreateForm)
	r.With(require(authz.CapStudentsCreate)).Post("/", s.create)
	r.With(require(authz.CapStudentsUpdate)).Get("/{id}/edit", s.showEditForm)
	r.With(require(authz.CapStudentsUpdate)).Post("/{id}", s.update)
	r.With(require(authz.CapStudentsDelete)).Post("/{id}/delete", s.delete)
}

// screen binds the handler to one base path.
type screen struct {
	*Handler
	base string
}

type formErrors map[string]string

// Form is the student form as posted by the browser.
type Form struct {
	Name          string `validate:"required"`
	Age           int    `validate:"required,min=3,max=25"`
	Grade         string `validate:"required,grade"`
	Email         string `validate:"required,email"`
	Phone         string `validate:"required"`
	Street        string
	City          string
	State         string
	ZipCode       string
	ParentName    string `validate:"required"`
	ParentContact string `validate:"required"`
}

func parseForm(r *http.Request) Form {
	field := func(name string) string { return strings.TrimSpace(r.PostFormValue(name)) }
	age, _ := strconv.Atoi(field("age"))
	return Form{
		Name:          field("name"),
		Age:           age,
		Grade:         field("grade"),
		Email:         field("email"),
		Phone:         field("phone"),
		Street:        field("street"),
		City:          field("city"),
		State:         field("state"),
		ZipCode:       field("zipCode"),
		ParentName:    field("parentName"),
		ParentContact: field("parentContact"),
	}
}

func formOf(s upstream.Student) Form {
	return Form{
		Name:          s.Name,
		Age:           s.Age,
		Grade:         s.Grade,
		Email:         s.ContactInfo.Email,
		Phone:         s.ContactInfo.Phone,
		Street:        s.ContactInfo.Address.Street,
		City:          s.ContactInfo.Address.City,
		State:         s.ContactInfo.Address.State,
		ZipCode:       s.ContactInfo.Address.ZipCode,
		ParentName:    s.ParentName,
		ParentContact: s.ParentContact,
	}
}

func (f Form) student() upstream.Student {
	return upstream.Student{
		Name:  f.Name,
		Age:   f.Age,
		Grade: f.Grade,
		ContactInfo: upstream.ContactInfo{
			Email: f.Email,
			Phone: f.Phone,
			Address: upstream.Address{
				Street:  f.Street,
				City:    f.City,
				State:   f.State,
				ZipCode: f.ZipCode,
			},
		},
		ParentName:    f.ParentName,
		ParentContact: f.ParentContact,
	}
}

func isGrade(grade string) bool {
	return slices.Contains(upstream.Grades, grade)
}

// Actions reports which mutating controls the list page shows.
type Actions struct {
	Create bool
	Update bool
	Delete bool
}

func actionsFor(identity authz.Identity) Actions {
	return Actions{
		Create: identity.Can(authz.CapStudentsCreate),
		Update: identity.Can(authz.CapStudentsUpdate),
		Delete: identity.Can(authz.CapStudentsDelete),
	}
}

func (s screen) list(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	students, err := v.Conn.ListStudents(r.Context())
	data := map[string]any{"Base": s.base, "Actions": actionsFor(v.Identity()), "Errors": formErrors{}}
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		s.logger.Warn("list students", slog.Any("error", err))
		data["Errors"] = formErrors{"general": authz.MessageOf(err, "Failed to fetch students")}
		s.render(w, r, "pages/students/list.html", "Students", data, http.StatusBadGateway)
		return
	}
	data["Students"] = students
	s.render(w, r, "pages/students/list.html", "Students", data, http.StatusOK)
}

func (s screen) showCreateForm(w http.ResponseWriter, r *http.Request) {
	s.renderForm(w, r, "add", "", Form{}, formErrors{}, http.StatusOK)
}

func (s screen) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := parseForm(r)
	if errs := s.validate(form); len(errs) > 0 {
		s.renderForm(w, r, "add", "", form, errs, http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	if _, err := v.Conn.CreateStudent(r.Context(), form.student()); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		s.logger.Warn("create student", slog.Any("error", err))
		s.renderForm(w, r, "add", "", form, formErrors{"general": authz.MessageOf(err, "Failed to create student")}, http.StatusBadRequest)
		return
	}
	s.bumpCounts(r)
	shared.RedirectWithFlash(w, r, s.base, shared.FlashSuccess, "Student created successfully!")
}

func (s screen) showEditForm(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	id := chi.URLParam(r, "id")
	student, err := v.Conn.GetStudent(r.Context(), id)
	if err != nil {
		v.ReportUpstreamError(r.Context(), err)
		if errors.Is(err, upstream.ErrNotFound) {
			shared.RedirectWithFlash(w, r, s.base, shared.FlashWarning, "Student not found")
			return
		}
		shared.RedirectWithFlash(w, r, s.base, shared.FlashDanger, authz.MessageOf(err, "Failed to fetch student"))
		return
	}
	s.renderForm(w, r, "edit", id, formOf(student), formErrors{}, http.StatusOK)
}

func (s screen) update(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	form := parseForm(r)
	if errs := s.validate(form); len(errs) > 0 {
		s.renderForm(w, r, "edit", id, form, errs, http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	if _, err := v.Conn.UpdateStudent(r.Context(), id, form.student()); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		s.logger.Warn("update student", slog.Any("error", err))
		s.renderForm(w, r, "edit", id, form, formErrors{"general": authz.MessageOf(err, "Failed to update student")}, http.StatusBadRequest)
		return
	}
	shared.RedirectWithFlash(w, r, s.base, shared.FlashSuccess, "Student updated successfully!")
}

func (s screen) delete(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	if err := v.Conn.DeleteStudent(r.Context(), chi.URLParam(r, "id")); err != nil {
		v.ReportUpstreamError(r.Context(), err)
		s.logger.Warn("delete student", slog.Any("error", err))
		shared.RedirectWithFlash(w, r, s.base, shared.FlashDanger, authz.MessageOf(err, "Failed to delete student"))
		return
	}
	s.bumpCounts(r)
	shared.RedirectWithFlash(w, r, s.base, shared.FlashSuccess, "Student deleted successfully!")
}

func (s screen) validate(form Form) formErrors {
	return formErrors(shared.ValidationMessages(s.validator.Struct(form), studentMessages))
}

func (s screen) renderForm(w http.ResponseWriter, r *http.Request, mode, id string, form Form, errs formErrors, status int) {
	title := "Add Student"
	if mode == "edit" {
		title = "Edit Student"
	}
	s.render(w, r, "pages/students/form.html", title, map[string]any{
		"Base":   s.base,
		"Mode":   mode,
		"ID":     id,
		"Form":   form,
		"Grades": upstream.Grades,
		"Errors": errs,
	}, status)
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

