package console

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campusdesk/campusdesk/internal/shared"
)

type visitorContextKey struct{}

// ContextWithVisitor stores v in ctx.
func ContextWithVisitor(ctx context.Context, v *Visitor) context.Context {
	return context.WithValue(ctx, visitorContextKey{}, v)
}

// VisitorFromContext extracts the visitor placed by Middleware.
func VisitorFromContext(ctx context.Context) *Visitor {
	v, _ := ctx.Value(visitorContextKey{}).(*Visitor)
	return v
}

// Middleware attaches the visitor of the request's console session. A
// pending forced-logout notice becomes a flash on the next page request.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sess := shared.SessionFromContext(req.Context())
		if sess == nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		v, err := r.Visitor(req.Context(), sess.ID)
		if err != nil {
			r.logger.Error("load visitor", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		if req.Method == http.MethodGet && !strings.HasPrefix(req.URL.Path, "/session/") {
			if notice := v.Monitor.TakeNotice(); notice != "" {
				sess.AddFlash(shared.FlashMessage{Kind: shared.FlashWarning, Message: notice})
			}
		}
		next.ServeHTTP(w, req.WithContext(ContextWithVisitor(req.Context(), v)))
	})
}
