package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CookieStore persists the upstream cookies of one console visitor.
type CookieStore interface {
	Load(ctx context.Context) ([]*http.Cookie, error)
	Save(ctx context.Context, cookies []*http.Cookie) error
	Clear(ctx context.Context) error
}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RedisCookieStore keeps cookies as a JSON list under one key per visitor.
type RedisCookieStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCookieStore binds a store to a console session id.
func NewRedisCookieStore(client *redis.Client, sessionID string, ttl time.Duration) *RedisCookieStore {
	return &RedisCookieStore{client: client, key: "campusdesk:upstream:" + sessionID, ttl: ttl}
}

// Load returns the saved cookies; a missing key yields none.
func (s *RedisCookieStore) Load(ctx context.Context) ([]*http.Cookie, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored []storedCookie
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	return cookies, nil
}

// Save replaces the saved cookies. An empty list deletes the key.
func (s *RedisCookieStore) Save(ctx context.Context, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return s.Clear(ctx)
	}
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value})
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, raw, s.ttl).Err()
}

// Clear deletes the saved cookies.
func (s *RedisCookieStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Jar is an http.CookieJar scoped to the upstream origin whose contents are
// mirrored into a CookieStore after every change.
type Jar struct {
	mu     sync.Mutex
	inner  *cookiejar.Jar
	origin *url.URL
	store  CookieStore
	logger *slog.Logger
}

// NewJar builds a jar for origin and seeds it from store.
func NewJar(ctx context.Context, origin *url.URL, store CookieStore, logger *slog.Logger) (*Jar, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	j := &Jar{inner: inner, origin: origin, store: store, logger: logger}
	if store == nil {
		return j, nil
	}
	saved, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(saved) > 0 {
		inner.SetCookies(origin, saved)
	}
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	j.persistLocked()
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// HasCredentials reports whether any cookie is held for the upstream origin.
func (j *Jar) HasCredentials() bool {
	return len(j.Cookies(j.origin)) > 0
}

// Reset forgets every cookie.
func (j *Jar) Reset(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	inner, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	j.inner = inner
	if j.store == nil {
		return nil
	}
	return j.store.Clear(ctx)
}

func (j *Jar) persistLocked() {
	if j.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.store.Save(ctx, j.inner.Cookies(j.origin)); err != nil {
		j.logger.Warn("persist upstream cookies", slog.Any("error", err))
	}
}

var _ http.CookieJar = (*Jar)(nil)
