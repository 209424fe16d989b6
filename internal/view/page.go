package view

import (
	"net/http"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/shared"
)

// NewTemplateData fills the per-request fields every page shows: the CSRF
// token, the pending flash and the visitor identity for the navigation bar.
func NewTemplateData(r *http.Request, csrf *shared.CSRFManager, identity authz.Identity, title string, data any) TemplateData {
	sess := shared.SessionFromContext(r.Context())
	td := TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Identity:    identity,
		Data:        data,
	}
	if sess == nil {
		return td
	}
	if csrf != nil {
		td.CSRFToken, _ = csrf.EnsureToken(r.Context(), sess)
	}
	td.Flash = sess.PopFlash()
	return td
}
