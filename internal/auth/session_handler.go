package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	"github.com/campusdesk/campusdesk/internal/platform/httpx"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// SessionHandler bridges the browser session script and the visitor's
// session monitor.
type SessionHandler struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler constructs a SessionHandler. The websocket upgrader only
// accepts same-origin connections.
func NewSessionHandler(logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// MountRoutes registers the /session endpoints.
func (h *SessionHandler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Post("/activity", h.activity)
	r.Post("/visibility", h.visibility)
	r.Post("/extend", h.extend)
	r.Post("/logout-now", h.logoutNow)
	r.Get("/events", h.events)
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type outcomeResponse struct {
	Outcome authz.Outcome `json:"outcome"`
	Status  authz.Status  `json:"status"`
}

type logoutResponse struct {
	Redirect string `json:"redirect"`
	Message  string `json:"message"`
}

func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, v.Monitor.Status())
}

func (h *SessionHandler) activity(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	if err := v.Monitor.RecordActivity(r.Context()); err != nil {
		h.logger.Warn("record activity", slog.String("visitor", shortID(v.ID)), slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) visibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	v := console.VisitorFromContext(r.Context())
	outcome := v.Monitor.VisibilityChanged(r.Context(), req.Visible)
	httpx.JSON(w, http.StatusOK, outcomeResponse{Outcome: outcome, Status: v.Monitor.Status()})
}

func (h *SessionHandler) extend(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	if !v.Identity().Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := v.Monitor.Extend(r.Context()); err != nil {
		h.logger.Warn("extend session", slog.String("visitor", shortID(v.ID)), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, v.Monitor.Status())
}

func (h *SessionHandler) logoutNow(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	v.Monitor.LogoutNow(r.Context())
	httpx.JSON(w, http.StatusOK, logoutResponse{Redirect: authz.LoginPath, Message: authz.SessionExpiredNotice})
}

// clientMessage is sent by the browser over the event socket.
type clientMessage struct {
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// statusMessage is the first frame written on a new socket.
type statusMessage struct {
	Type   string       `json:"type"`
	Status authz.Status `json:"status"`
}

func (h *SessionHandler) events(w http.ResponseWriter, r *http.Request) {
	v := console.VisitorFromContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("session events upgrade", slog.Any("error", err))
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// The request context carries the handler timeout; the socket outlives it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	events, unsubscribe := v.Monitor.Subscribe()
	defer unsubscribe()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	go func() {
		defer cancel()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				h.logger.Debug("invalid session message", slog.String("visitor", shortID(v.ID)), slog.Any("error", err))
				continue
			}
			switch msg.Type {
			case "activity":
				_ = v.Monitor.RecordActivity(ctx)
			case "visibility":
				v.Monitor.VisibilityChanged(ctx, msg.Visible)
			case "extend":
				_ = v.Monitor.Extend(ctx)
			}
		}
	}()

	if err := h.write(conn, statusMessage{Type: "status", Status: v.Monitor.Status()}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, evt); err != nil {
				return
			}
			if evt.Kind == authz.EventForcedLogout {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logged out"),
					time.Now().Add(writeTimeout))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *SessionHandler) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
