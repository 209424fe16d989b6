package students_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console/consoletest"
	"github.com/campusdesk/campusdesk/internal/students"
	"github.com/campusdesk/campusdesk/internal/upstream"
	_ "github.com/campusdesk/campusdesk/testing"
)

type fixture struct {
	*consoletest.Harness
	router  http.Handler
	staffID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := consoletest.New(t)
	h.API.AddUser("Ada Admin", "admin@school.test", "secret", authz.RoleSuperAdmin)
	staffID := h.API.AddUser("Sam Staff", "staff@school.test", "secret", authz.RoleStaff)

	handler := students.NewHandler(nil, h.Templates, h.CSRF, h.RBAC, h.Counts)
	router := h.Router(t, func(r chi.Router) {
		r.Route(students.AdminPath, handler.MountAdminRoutes)
		r.Route(students.StaffPath, handler.MountStaffRoutes)
	})
	return &fixture{Harness: h, router: router, staffID: staffID}
}

func validForm() url.Values {
	return url.Values{
		"name":          {"Lee Park"},
		"age":           {"10"},
		"grade":         {"5th Grade"},
		"email":         {"lee@family.test"},
		"phone":         {"555-0100"},
		"city":          {"Springfield"},
		"parentName":    {"Jo Park"},
		"parentContact": {"555-0101"},
	}
}

func TestAdminListsStudents(t *testing.T) {
	f := newFixture(t)
	f.API.AddStudent(upstream.Student{Name: "Mina Cho", Age: 8, Grade: "3rd Grade"})
	f.Login(t, "sess-admin", "admin@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-admin", http.MethodGet, students.AdminPath+"/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Mina Cho")
	assert.Contains(t, body, "Add student")
	assert.Contains(t, body, "/delete")
}

func TestAdminCreatesStudent(t *testing.T) {
	f := newFixture(t)
	f.Login(t, "sess-admin", "admin@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-admin", http.MethodPost, students.AdminPath+"/", validForm())
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, students.AdminPath, res.Header().Get("Location"))
	assert.Equal(t, 1, f.API.Students())

	flash := f.Flash(t, "sess-admin")
	require.NotNil(t, flash)
	assert.Equal(t, "Student created successfully!", flash.Message)
}

func TestCreateRejectsInvalidForm(t *testing.T) {
	f := newFixture(t)
	f.Login(t, "sess-admin", "admin@school.test", "secret")

	form := validForm()
	form.Set("age", "2")
	form.Set("grade", "13th Grade")
	form.Set("email", "not-an-email")
	form.Del("name")

	res := consoletest.Do(t, f.router, "sess-admin", http.MethodPost, students.AdminPath+"/", form)
	require.Equal(t, http.StatusBadRequest, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Name is required")
	assert.Contains(t, body, "Age must be between 3 and 25")
	assert.Contains(t, body, "Select a grade from the list")
	assert.Contains(t, body, "Please enter a valid email address")
	assert.Zero(t, f.API.Students())
}

func TestAdminUpdatesAndDeletesStudent(t *testing.T) {
	f := newFixture(t)
	id := f.API.AddStudent(upstream.Student{Name: "Mina Cho", Age: 8, Grade: "3rd Grade"})
	f.Login(t, "sess-admin", "admin@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-admin", http.MethodGet, students.AdminPath+"/"+id+"/edit", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `value="Mina Cho"`)

	res = consoletest.Do(t, f.router, "sess-admin", http.MethodPost, students.AdminPath+"/"+id, validForm())
	require.Equal(t, http.StatusSeeOther, res.Code)
	updated, ok := f.API.Student(id)
	require.True(t, ok)
	assert.Equal(t, "Lee Park", updated.Name)
	assert.Equal(t, "Springfield", updated.ContactInfo.Address.City)

	res = consoletest.Do(t, f.router, "sess-admin", http.MethodPost, students.AdminPath+"/"+id+"/delete", url.Values{})
	require.Equal(t, http.StatusSeeOther, res.Code)
	_, ok = f.API.Student(id)
	assert.False(t, ok)
}

func TestEditMissingStudentRedirectsWithWarning(t *testing.T) {
	f := newFixture(t)
	f.Login(t, "sess-admin", "admin@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-admin", http.MethodGet, students.AdminPath+"/nope/edit", nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	flash := f.Flash(t, "sess-admin")
	require.NotNil(t, flash)
	assert.Equal(t, "warning", flash.Kind)
	assert.Equal(t, "Student not found", flash.Message)
}

func TestStaffReadOnlyGrantHidesActions(t *testing.T) {
	f := newFixture(t)
	f.API.SetGrant(f.staffID, authz.CapabilityGrant{Students: authz.Actions{CanRead: true}})
	f.API.AddStudent(upstream.Student{Name: "Mina Cho", Age: 8, Grade: "3rd Grade"})
	f.Login(t, "sess-staff", "staff@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-staff", http.MethodGet, students.StaffPath+"/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Mina Cho")
	assert.NotContains(t, body, "Add student")
	assert.NotContains(t, body, "/delete")

	res = consoletest.Do(t, f.router, "sess-staff", http.MethodGet, students.StaffPath+"/new", nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, res.Body.String(), "Create Students")

	res = consoletest.Do(t, f.router, "sess-staff", http.MethodPost, students.StaffPath+"/", validForm())
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, authz.StaffHomePath, res.Header().Get("Location"))
	assert.Equal(t, 1, f.API.Students())
	flash := f.Flash(t, "sess-staff")
	require.NotNil(t, flash)
	assert.Equal(t, "You do not have permission to create students.", flash.Message)
}

func TestStaffWithoutReadIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.Login(t, "sess-staff", "staff@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-staff", http.MethodGet, students.StaffPath+"/", nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, res.Body.String(), "View Students")
}

func TestStaffCannotOpenAdminScreen(t *testing.T) {
	f := newFixture(t)
	f.API.SetGrant(f.staffID, authz.FullGrant())
	f.Login(t, "sess-staff", "staff@school.test", "secret")

	res := consoletest.Do(t, f.router, "sess-staff", http.MethodGet, students.AdminPath+"/", nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, authz.StaffHomePath, res.Header().Get("Location"))
}

func TestListShowsUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.Login(t, "sess-admin", "admin@school.test", "secret")
	f.API.FailNext("/students", 1)

	res := consoletest.Do(t, f.router, "sess-admin", http.MethodGet, students.AdminPath+"/", nil)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Contains(t, res.Body.String(), "Internal server error")
}
