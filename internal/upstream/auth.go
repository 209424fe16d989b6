package upstream

import (
	"context"
	"net/http"

	"github.com/campusdesk/campusdesk/internal/authz"
)

type userEnvelope struct {
	User wireUser `json:"user"`
}

// Me returns the account behind the current upstream session.
func (c *Conn) Me(ctx context.Context) (authz.User, error) {
	var env userEnvelope
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &env); err != nil {
		return authz.User{}, err
	}
	return env.User.user(), nil
}

// Login opens an upstream session. The session cookie lands in the jar.
func (c *Conn) Login(ctx context.Context, email, password string) (authz.User, error) {
	payload := map[string]string{"email": email, "password": password}
	var env userEnvelope
	if err := c.do(ctx, http.MethodPost, "/auth/login", payload, &env); err != nil {
		return authz.User{}, err
	}
	return env.User.user(), nil
}

// Logout ends the upstream session.
func (c *Conn) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// MyPermissions returns the raw permission document of the signed-in staff
// account. Interpretation is left to authz.Resolve.
func (c *Conn) MyPermissions(ctx context.Context) ([]byte, error) {
	return c.raw(ctx, "/staff-permissions/my-permissions")
}

var _ authz.Gateway = (*Conn)(nil)

// LogoutWith ends an upstream session identified only by its cookies. It is
// used after the visitor's own jar has been cleared.
func (c *Client) LogoutWith(ctx context.Context, cookies []*http.Cookie) error {
	jar, err := NewJar(ctx, c.BaseURL(), nil, nil)
	if err != nil {
		return err
	}
	jar.SetCookies(c.baseURL, cookies)
	return c.Conn(jar).Logout(ctx)
}
