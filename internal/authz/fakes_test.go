package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string       { return e.msg }
func (e statusErr) StatusCode() int     { return e.code }
func (e statusErr) UserMessage() string { return e.msg }

var errNetwork = errors.New("dial tcp: connection refused")

type fakeGateway struct {
	mu sync.Mutex

	me    User
	meErr error
	// meHook runs inside Me before it returns, letting tests interleave.
	meHook func()

	loginUser User
	loginErr  error

	perms    []byte
	permsErr error

	meCalls, loginCalls, logoutCalls, permCalls int
}

func (g *fakeGateway) Me(ctx context.Context) (User, error) {
	g.mu.Lock()
	g.meCalls++
	hook := g.meHook
	user, err := g.me, g.meErr
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return user, err
}

func (g *fakeGateway) Login(ctx context.Context, email, password string) (User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginCalls++
	return g.loginUser, g.loginErr
}

func (g *fakeGateway) Logout(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logoutCalls++
	return nil
}

func (g *fakeGateway) MyPermissions(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permCalls++
	return g.perms, g.permsErr
}

func (g *fakeGateway) setMe(user User, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.me, g.meErr = user, err
}

func (g *fakeGateway) calls() (me, login, logout, perms int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meCalls, g.loginCalls, g.logoutCalls, g.permCalls
}

func newTestActivity(t *testing.T) (*RedisActivity, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisActivity(client, "sess-1", time.Hour), mr
}

var (
	adminUser   = User{ID: "a1", Name: "Ada", Email: "ada@school.test", Role: RoleSuperAdmin, IsActive: true}
	staffUser   = User{ID: "s1", Name: "Sam", Email: "sam@school.test", Role: RoleStaff, IsActive: true}
	studentUser = User{ID: "p1", Name: "Pat", Email: "pat@school.test", Role: RoleStudent, IsActive: true}
)

const readCreateGrant = `{"staffPermission":{"permissions":{"students":{"canCreate":true,"canRead":true,"canUpdate":false,"canDelete":false}}}}`
