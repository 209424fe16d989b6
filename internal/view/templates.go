package view

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/shared"
	"github.com/campusdesk/campusdesk/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Identity    authz.Identity
	Data        any
}

var titleCaser = cases.Title(language.English)

// RoleLabel renders a role for display, e.g. "Super Admin".
func RoleLabel(r authz.Role) string {
	if r == "" {
		return "Guest"
	}
	return titleCaser.String(r.Label())
}

func displayName(i authz.Identity) string {
	user, ok := i.User()
	if !ok {
		return ""
	}
	if user.Name != "" {
		return user.Name
	}
	return user.Email
}

func formatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006 15:04")
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006 15:04")
	}
	return ""
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": formatDate,
		"roleLabel":  RoleLabel,
		"capabilities": func() []authz.Capability {
			return authz.StudentCapabilities()
		},
		"displayName": displayName,
		"isAdmin": func(i authz.Identity) bool {
			return i.Kind() == authz.KindAdmin
		},
		"isStaff": func(i authz.Identity) bool {
			return i.Kind() == authz.KindStaff
		},
		"active": func(current, prefix string) bool {
			return len(current) >= len(prefix) && current[:len(prefix)] == prefix
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderStatus renders name with an explicit status code.
func (e *Engine) RenderStatus(w http.ResponseWriter, name string, status int, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return e.templates.ExecuteTemplate(w, name, data)
}
