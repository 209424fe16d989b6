package jobs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campusdesk/campusdesk/internal/console"
)

const (
	// QueueSessions carries session housekeeping tasks.
	QueueSessions = "sessions"
	// TaskSessionUpstreamLogout ends an upstream session after a forced logout.
	TaskSessionUpstreamLogout = "session:upstream_logout"
)

// UpstreamCookie is the serialisable form of an upstream session cookie.
type UpstreamCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UpstreamLogoutPayload describes the upstream session to end.
type UpstreamLogoutPayload struct {
	SessionID string           `json:"session_id"`
	Cookies   []UpstreamCookie `json:"cookies"`
	Reason    string           `json:"reason"`
}

// PayloadFromRequest converts a console logout request into a task payload.
func PayloadFromRequest(req console.LogoutRequest) UpstreamLogoutPayload {
	payload := UpstreamLogoutPayload{SessionID: req.SessionID, Reason: string(req.Reason)}
	for _, c := range req.Cookies {
		if c == nil || c.Name == "" {
			continue
		}
		payload.Cookies = append(payload.Cookies, UpstreamCookie{Name: c.Name, Value: c.Value})
	}
	return payload
}

// HTTPCookies rebuilds the cookies held by the payload.
func (p UpstreamLogoutPayload) HTTPCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(p.Cookies))
	for _, c := range p.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	return cookies
}

// NewUpstreamLogoutTask builds the task for payload. Identical payloads
// queued within ten minutes collapse into one task.
func NewUpstreamLogoutTask(payload UpstreamLogoutPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionUpstreamLogout, data,
		asynq.Queue(QueueSessions),
		asynq.MaxRetry(8),
		asynq.Timeout(30*time.Second),
		asynq.Unique(10*time.Minute),
	), nil
}
