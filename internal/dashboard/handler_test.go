package dashboard_test

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console/consoletest"
	"github.com/campusdesk/campusdesk/internal/dashboard"
	"github.com/campusdesk/campusdesk/internal/upstream"
	_ "github.com/campusdesk/campusdesk/testing"
)

var studentTile = regexp.MustCompile(`<span class="value">(\d+)</span><span class="label">Students</span>`)

func newRouter(t *testing.T) (*consoletest.Harness, http.Handler, string) {
	t.Helper()
	h := consoletest.New(t)
	h.API.AddUser("Ada", "admin@school.test", "secret", authz.RoleSuperAdmin)
	staffID := h.API.AddUser("Sam Staff", "staff@school.test", "secret", authz.RoleStaff)
	h.API.AddUser("Lee", "lee@school.test", "secret", authz.RoleStudent)
	handler := dashboard.NewHandler(nil, h.Templates, h.CSRF, h.RBAC, h.Counts)
	return h, h.Router(t, handler.MountRoutes), staffID
}

func studentCount(t *testing.T, body string) string {
	t.Helper()
	m := studentTile.FindStringSubmatch(body)
	require.Len(t, m, 2, "student tile missing")
	return m[1]
}

func TestAdminDashboardCountsAreCached(t *testing.T) {
	h, router, staffID := newRouter(t)
	h.API.SetGrant(staffID, authz.DefaultGrant())
	h.API.AddStudent(upstream.Student{Name: "Mina", Age: 8, Grade: "3rd Grade"})
	h.Login(t, "sess-admin", "admin@school.test", "secret")

	res := consoletest.Do(t, router, "sess-admin", http.MethodGet, authz.AdminHomePath, nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Equal(t, "1", studentCount(t, body))
	assert.Contains(t, body, `<span class="value">1</span><span class="label">Staff</span>`)
	assert.Contains(t, body, `<span class="value">1</span><span class="label">Student Accounts</span>`)
	assert.Contains(t, body, `<span class="value">1</span><span class="label">Permission Grants</span>`)

	h.API.AddStudent(upstream.Student{Name: "Noor", Age: 9, Grade: "4th Grade"})
	res = consoletest.Do(t, router, "sess-admin", http.MethodGet, authz.AdminHomePath, nil)
	assert.Equal(t, "1", studentCount(t, res.Body.String()))

	require.NoError(t, h.Counts.Bump(context.Background()))
	res = consoletest.Do(t, router, "sess-admin", http.MethodGet, authz.AdminHomePath, nil)
	assert.Equal(t, "2", studentCount(t, res.Body.String()))
}

func TestAdminDashboardUpstreamFailure(t *testing.T) {
	h, router, _ := newRouter(t)
	h.Login(t, "sess-admin", "admin@school.test", "secret")
	h.API.FailNext("/staff-permissions", 1)

	res := consoletest.Do(t, router, "sess-admin", http.MethodGet, authz.AdminHomePath, nil)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Contains(t, res.Body.String(), "Internal server error")
}

func TestStaffDashboardShowsChips(t *testing.T) {
	h, router, staffID := newRouter(t)
	h.API.SetGrant(staffID, authz.CapabilityGrant{Students: authz.Actions{CanRead: true, CanUpdate: true}})
	h.Login(t, "sess-staff", "staff@school.test", "secret")

	res := consoletest.Do(t, router, "sess-staff", http.MethodGet, authz.StaffHomePath, nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, `<li class="chip granted">View Students</li>`)
	assert.Contains(t, body, `<li class="chip granted">Edit Students</li>`)
	assert.Contains(t, body, `<li class="chip denied">Delete Students</li>`)
	assert.Contains(t, body, "Open students")
	assert.NotContains(t, body, "No permissions have been assigned")

	res = consoletest.Do(t, router, "sess-staff", http.MethodGet, authz.AdminHomePath, nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, authz.StaffHomePath, res.Header().Get("Location"))
}

func TestStaffWithoutGrantSeesNotice(t *testing.T) {
	h, router, _ := newRouter(t)
	h.Login(t, "sess-staff", "staff@school.test", "secret")

	res := consoletest.Do(t, router, "sess-staff", http.MethodGet, authz.StaffHomePath, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "No permissions have been assigned")
}

func TestChips(t *testing.T) {
	chips := dashboard.Chips(authz.CapabilityGrant{Students: authz.Actions{CanCreate: true}})
	require.Len(t, chips, 4)
	assert.Equal(t, authz.CapStudentsRead, chips[0].Capability)
	assert.False(t, chips[0].Granted)
	assert.Equal(t, "Create Students", chips[1].Label)
	assert.True(t, chips[1].Granted)
}
