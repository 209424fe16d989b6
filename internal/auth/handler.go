package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/rbac"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/internal/view"
)

const msgMissingCredentials = "Please enter both email and password."

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	visitors       *console.Registry
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, visitors *console.Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		visitors:       visitors,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.root)
	r.Get(authz.LoginPath, h.showLogin)
	r.Post(authz.LoginPath, h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Next   string
	Errors map[string]string
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	v.AwaitBootstrap(r.Context(), h.visitors.BootstrapWait())
	http.Redirect(w, r, authz.HomeFor(v.Snapshot()), http.StatusSeeOther)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	v.AwaitBootstrap(r.Context(), h.visitors.BootstrapWait())
	if identity := v.Identity(); identity.Authenticated() {
		http.Redirect(w, r, rbac.SafeNext(r.URL.Query().Get("next"), authz.HomePath(identity.Role())), http.StatusSeeOther)
		return
	}
	data := loginPageData{Next: r.URL.Query().Get("next"), Errors: map[string]string{}}
	viewData := view.NewTemplateData(r, h.csrfManager, v.Identity(), "Sign in", data)
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	v := console.VisitorFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	next := r.PostFormValue("next")
	errors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		errors["general"] = msgMissingCredentials
	}

	if len(errors) == 0 {
		identity, err := v.Negotiator.Negotiate(r.Context(), form.Email, form.Password)
		if err != nil {
			errors["general"] = authz.MessageOf(err, "Login failed")
			h.logger.Info("login rejected", slog.String("visitor", shortID(v.ID)), slog.Any("error", err))
		} else {
			user, _ := identity.User()
			if sess != nil {
				sess.SetUser(user.ID)
				sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Welcome back, " + user.Name})
			}
			h.logger.Info("login", slog.String("visitor", shortID(v.ID)), slog.String("scheme", identity.Kind().String()))
			http.Redirect(w, r, rbac.SafeNext(next, authz.HomePath(identity.Role())), http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	data := loginPageData{Form: form, Next: next, Errors: errors}
	viewData := view.NewTemplateData(r, h.csrfManager, v.Identity(), "Sign in", data)
	if viewData.Flash == nil {
		viewData.Flash = &shared.FlashMessage{Kind: shared.FlashDanger, Message: errors["general"]}
	}
	if err := h.templates.RenderStatus(w, "pages/login.html", http.StatusBadRequest, viewData); err != nil {
		h.logger.Error("render login invalid", slog.Any("error", err))
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	if err := v.SignOut(r.Context()); err != nil {
		h.logger.Warn("sign out", slog.String("visitor", shortID(v.ID)), slog.Any("error", err))
	}
	h.visitors.Forget(v.ID)
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, authz.LoginPath, http.StatusSeeOther)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
