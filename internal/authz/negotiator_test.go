package authz

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type loginRecord struct {
	scheme Kind
	ok     bool
}

func newTestNegotiator(t *testing.T, gw *fakeGateway) (*Negotiator, *Store, *RedisActivity, *[]loginRecord) {
	t.Helper()
	store := NewStore()
	activity, _ := newTestActivity(t)
	records := &[]loginRecord{}
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	n := NewNegotiator(store, gw, activity, nil,
		WithNegotiatorClock(clk),
		WithLoginObserver(func(scheme Kind, ok bool) {
			*records = append(*records, loginRecord{scheme, ok})
		}))
	return n, store, activity, records
}

func TestNegotiateAdmin(t *testing.T) {
	gw := &fakeGateway{loginUser: adminUser}
	n, store, activity, records := newTestNegotiator(t, gw)

	identity, err := n.Negotiate(context.Background(), adminUser.Email, "secret")
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, identity.Kind())
	assert.Equal(t, KindAdmin, store.Current().Kind())
	assert.Equal(t, []loginRecord{{KindAdmin, true}}, *records)

	_, login, _, perms := gw.calls()
	assert.Equal(t, 1, login)
	assert.Zero(t, perms)

	at, ok, err := activity.Last(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), at.UTC())
}

func TestNegotiateStaffReusesLogin(t *testing.T) {
	gw := &fakeGateway{loginUser: staffUser, perms: []byte(readCreateGrant)}
	n, store, _, records := newTestNegotiator(t, gw)

	identity, err := n.Negotiate(context.Background(), staffUser.Email, "secret")
	require.NoError(t, err)
	assert.Equal(t, KindStaff, identity.Kind())
	assert.True(t, identity.Can(CapStudentsCreate))
	assert.False(t, identity.Can(CapStudentsDelete))

	snap := store.Snapshot()
	assert.True(t, snap.Staff.IsAuthenticated)
	assert.False(t, snap.Admin.IsAuthenticated)
	assert.Empty(t, snap.Admin.Error)
	assert.False(t, snap.Loading())

	_, login, _, perms := gw.calls()
	assert.Equal(t, 1, login)
	assert.Equal(t, 1, perms)
	assert.Equal(t, []loginRecord{{KindAdmin, false}, {KindStaff, true}}, *records)
}

func TestNegotiateStaffPermissionFailureDefaultsDeny(t *testing.T) {
	gw := &fakeGateway{loginUser: staffUser, permsErr: statusErr{code: http.StatusNotFound, msg: "no permissions"}}
	n, _, _, _ := newTestNegotiator(t, gw)

	identity, err := n.Negotiate(context.Background(), staffUser.Email, "secret")
	require.NoError(t, err)
	assert.Equal(t, KindStaff, identity.Kind())
	assert.Equal(t, DefaultGrant(), identity.Grant())
}

func TestNegotiateInvalidCredentials(t *testing.T) {
	gw := &fakeGateway{loginErr: statusErr{code: http.StatusUnauthorized, msg: "Invalid credentials"}}
	n, store, activity, _ := newTestNegotiator(t, gw)

	identity, err := n.Negotiate(context.Background(), "nobody@school.test", "bad")
	require.Error(t, err)
	assert.False(t, identity.Authenticated())
	assert.Equal(t, "Invalid credentials", MessageOf(err, "Login failed"))

	var stepErr StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, KindStaff, stepErr.Scheme)

	snap := store.Snapshot()
	assert.Equal(t, "Invalid credentials", snap.Staff.Error)
	assert.Equal(t, "Invalid credentials", snap.Admin.Error)
	assert.False(t, snap.Loading())

	_, login, logout, _ := gw.calls()
	assert.Equal(t, 2, login)
	assert.Zero(t, logout)

	_, ok, err := activity.Last(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNegotiateFallbackMessage(t *testing.T) {
	gw := &fakeGateway{loginErr: errNetwork}
	n, _, _, _ := newTestNegotiator(t, gw)

	_, err := n.Negotiate(context.Background(), "x@school.test", "pw")
	require.Error(t, err)
	assert.Equal(t, "Login failed", MessageOf(err, "unused"))
}

func TestNegotiateRejectsOtherRoles(t *testing.T) {
	gw := &fakeGateway{loginUser: studentUser}
	n, store, _, _ := newTestNegotiator(t, gw)

	_, err := n.Negotiate(context.Background(), studentUser.Email, "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoleNotPermitted)
	assert.Equal(t, msgRoleForbidden, MessageOf(err, "Login failed"))
	assert.False(t, store.Current().Authenticated())

	_, login, logout, _ := gw.calls()
	assert.Equal(t, 1, login)
	assert.Equal(t, 1, logout)
}
