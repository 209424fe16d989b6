package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Flash kinds understood by the layout.
const (
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashDanger  = "danger"
)

// FlashMessage is a notification shown once on the next rendered page.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager keeps console sessions in Redis behind an opaque cookie.
// The cookie value is the session id; it is also the key of the visitor
// registry, so ids are stable for the lifetime of the session.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session is the request-scoped view of one console session.
type Session struct {
	ID string

	values    map[string]string
	userID    string
	flashes   []FlashMessage
	stored    bool
	dirty     bool
	destroyed bool
}

type sessionRecord struct {
	Values  map[string]string `json:"values"`
	UserID  string            `json:"user_id"`
	Flashes []FlashMessage    `json:"flashes"`
}

// NewSessionManager constructs a SessionManager. Sessions idle for longer
// than ttl expire.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load returns the session named by the request cookie. A missing cookie
// starts a new session; a cookie whose record has expired keeps its id so the
// visitor behind it is not orphaned.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && cookie.Value == "") {
		return sm.fresh(sm.newID()), nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := sm.client.Get(ctx, sm.key(cookie.Value)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return sm.fresh(cookie.Value), nil
	case err != nil:
		return nil, err
	}

	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &Session{
		ID:      cookie.Value,
		values:  rec.Values,
		userID:  rec.UserID,
		flashes: rec.Flashes,
		stored:  true,
	}, nil
}

// Commit writes the session back and refreshes the cookie. Unchanged
// sessions only have their expiry pushed forward.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.key(sess.ID)).Err(); err != nil {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}
	if sess.ID == "" {
		sess.ID = sm.newID()
	}

	if sess.dirty || !sess.stored {
		data, err := json.Marshal(sessionRecord{Values: sess.values, UserID: sess.userID, Flashes: sess.flashes})
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.key(sess.ID), data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.stored, sess.dirty = true, false
	} else if err := sm.client.Expire(ctx, sm.key(sess.ID), sm.ttl).Err(); err != nil {
		return err
	}

	http.SetCookie(w, sm.cookie(sess.ID, 0))
	return nil
}

// Destroy marks the session for deletion on the next Commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// TTL is the idle lifetime of a session.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName is the name of the session cookie.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) fresh(id string) *Session {
	return &Session{ID: id, values: make(map[string]string), dirty: true}
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge == 0 {
		c.Expires = time.Now().Add(sm.ttl)
	}
	return c
}

func (sm *SessionManager) key(id string) string {
	return "campusdesk:session:" + id
}

func (sm *SessionManager) newID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	mac := hmac.New(sha256.New, sm.secret)
	_, _ = mac.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Set stores a value.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get returns a stored value or "".
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// SetUser records the signed-in account id.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the signed-in account id.
func (s *Session) User() string {
	return s.userID
}

// AddFlash queues msg for the next rendered page.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash removes and returns the oldest queued flash.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

type sessionContextKey struct{}

// ContextWithSession stores sess in ctx.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session placed by the session middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// RedirectWithFlash queues a flash on the request's session and answers with
// 303 See Other.
func RedirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
