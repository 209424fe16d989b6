package users_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console/consoletest"
	"github.com/campusdesk/campusdesk/internal/users"
	_ "github.com/campusdesk/campusdesk/testing"
)

func newRouter(t *testing.T) (*consoletest.Harness, http.Handler) {
	t.Helper()
	h := consoletest.New(t)
	h.API.AddUser("Ada", "admin@school.test", "secret", authz.RoleSuperAdmin)
	h.Login(t, "sess-admin", "admin@school.test", "secret")
	handler := users.NewHandler(nil, h.Templates, h.CSRF, h.RBAC, h.Counts)
	return h, h.Router(t, func(r chi.Router) {
		r.Route("/superadmin", handler.MountRoutes)
	})
}

func TestStaffLifecycle(t *testing.T) {
	h, router := newRouter(t)

	res := consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/staffs/", url.Values{
		"name":     {"Sam Staff"},
		"email":    {"sam@school.test"},
		"password": {"secret1"},
		"isActive": {"on"},
	})
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/superadmin/staffs", res.Header().Get("Location"))
	assert.Equal(t, "Staff added successfully!", h.Flash(t, "sess-admin").Message)

	res = consoletest.Do(t, router, "sess-admin", http.MethodGet, "/superadmin/staffs/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "sam@school.test")

	const staffID = "u2"
	res = consoletest.Do(t, router, "sess-admin", http.MethodGet, "/superadmin/staffs/"+staffID+"/edit", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `value="Sam Staff"`)

	res = consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/staffs/"+staffID, url.Values{
		"name":  {"Sam Renamed"},
		"email": {"sam@school.test"},
	})
	require.Equal(t, http.StatusSeeOther, res.Code)
	user, ok := h.API.User(staffID)
	require.True(t, ok)
	assert.Equal(t, "Sam Renamed", user.Name)
	assert.False(t, user.IsActive)
	assert.Equal(t, "Staff updated successfully!", h.Flash(t, "sess-admin").Message)

	res = consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/staffs/"+staffID+"/delete", url.Values{})
	require.Equal(t, http.StatusSeeOther, res.Code)
	_, ok = h.API.User(staffID)
	assert.False(t, ok)
	assert.Equal(t, "User deleted successfully!", h.Flash(t, "sess-admin").Message)
	assert.Nil(t, h.Flash(t, "sess-admin"))
}

func TestCreateStaffValidates(t *testing.T) {
	_, router := newRouter(t)

	res := consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/staffs/", url.Values{
		"email":    {"nope"},
		"password": {"123"},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Name is required")
	assert.Contains(t, body, "Please enter a valid email address")
	assert.Contains(t, body, "Password must be at least 6 characters")
}

func TestCreateStaffRequiresPassword(t *testing.T) {
	_, router := newRouter(t)

	res := consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/staffs/", url.Values{
		"name":  {"Sam"},
		"email": {"sam@school.test"},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Password is required")
}

func TestDuplicateEmailShowsUpstreamMessage(t *testing.T) {
	_, router := newRouter(t)

	res := consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/student-accounts/", url.Values{
		"name":     {"Ada Again"},
		"email":    {"admin@school.test"},
		"password": {"secret1"},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Email already exists")
}

func TestEditUnknownStaffRedirects(t *testing.T) {
	h, router := newRouter(t)

	res := consoletest.Do(t, router, "sess-admin", http.MethodGet, "/superadmin/staffs/missing/edit", nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	flash := h.Flash(t, "sess-admin")
	require.NotNil(t, flash)
	assert.Equal(t, "Staff member not found", flash.Message)
}

func TestStudentAccounts(t *testing.T) {
	h, router := newRouter(t)

	res := consoletest.Do(t, router, "sess-admin", http.MethodPost, "/superadmin/student-accounts/", url.Values{
		"name":     {"Lee Park"},
		"email":    {"lee@school.test"},
		"password": {"secret1"},
	})
	require.Equal(t, http.StatusSeeOther, res.Code)
	user, ok := h.API.User("u2")
	require.True(t, ok)
	assert.Equal(t, authz.RoleStudent, user.Role)
	assert.True(t, user.IsActive)
	h.Flash(t, "sess-admin")

	res = consoletest.Do(t, router, "sess-admin", http.MethodGet, "/superadmin/student-accounts/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "lee@school.test")
	assert.NotContains(t, body, "admin@school.test")
}

func TestStaffCannotManageAccounts(t *testing.T) {
	h, router := newRouter(t)
	h.API.AddUser("Sam", "staff@school.test", "secret", authz.RoleStaff)
	h.Login(t, "sess-staff", "staff@school.test", "secret")

	res := consoletest.Do(t, router, "sess-staff", http.MethodGet, "/superadmin/staffs/", nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, authz.StaffHomePath, res.Header().Get("Location"))
}
