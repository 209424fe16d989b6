package upstream

import (
	"context"
	"net/http"
	"net/url"

	"github.com/campusdesk/campusdesk/internal/authz"
)

// ListUsers returns the accounts holding role.
func (c *Conn) ListUsers(ctx context.Context, role authz.Role) ([]authz.User, error) {
	var env struct {
		Users []wireUser `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/getall/"+url.PathEscape(string(role)), nil, &env); err != nil {
		return nil, err
	}
	return usersOf(env.Users), nil
}

// AddUser creates an account.
func (c *Conn) AddUser(ctx context.Context, account Account) (authz.User, error) {
	var env userEnvelope
	if err := c.do(ctx, http.MethodPost, "/users/add", account, &env); err != nil {
		return authz.User{}, err
	}
	return env.User.user(), nil
}

// UpdateUser replaces an account. An empty password keeps the current one.
func (c *Conn) UpdateUser(ctx context.Context, id string, account Account) (authz.User, error) {
	var env userEnvelope
	if err := c.do(ctx, http.MethodPut, "/users/update/"+url.PathEscape(id), account, &env); err != nil {
		return authz.User{}, err
	}
	return env.User.user(), nil
}

// DeleteUser removes an account.
func (c *Conn) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/users/delete/"+url.PathEscape(id), nil, nil)
}

// ListStudents returns every student record.
func (c *Conn) ListStudents(ctx context.Context) ([]Student, error) {
	var env struct {
		Students []Student `json:"students"`
	}
	if err := c.do(ctx, http.MethodGet, "/students", nil, &env); err != nil {
		return nil, err
	}
	return env.Students, nil
}

// GetStudent returns one student record.
func (c *Conn) GetStudent(ctx context.Context, id string) (Student, error) {
	var env struct {
		Student Student `json:"student"`
	}
	if err := c.do(ctx, http.MethodGet, "/students/"+url.PathEscape(id), nil, &env); err != nil {
		return Student{}, err
	}
	return env.Student, nil
}

// CreateStudent adds a student record.
func (c *Conn) CreateStudent(ctx context.Context, s Student) (Student, error) {
	s.ID = ""
	var env struct {
		Student Student `json:"student"`
	}
	if err := c.do(ctx, http.MethodPost, "/students", s, &env); err != nil {
		return Student{}, err
	}
	return env.Student, nil
}

// UpdateStudent replaces a student record.
func (c *Conn) UpdateStudent(ctx context.Context, id string, s Student) (Student, error) {
	s.ID = ""
	var env struct {
		Student Student `json:"student"`
	}
	if err := c.do(ctx, http.MethodPut, "/students/"+url.PathEscape(id), s, &env); err != nil {
		return Student{}, err
	}
	return env.Student, nil
}

// DeleteStudent removes a student record.
func (c *Conn) DeleteStudent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/students/"+url.PathEscape(id), nil, nil)
}

// ListStaffPermissions returns every assigned grant.
func (c *Conn) ListStaffPermissions(ctx context.Context) ([]StaffPermission, error) {
	var env struct {
		StaffPermissions []StaffPermission `json:"staffPermissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/staff-permissions", nil, &env); err != nil {
		return nil, err
	}
	return env.StaffPermissions, nil
}

// GetStaffPermission returns the grant of one staff account.
func (c *Conn) GetStaffPermission(ctx context.Context, staffID string) (StaffPermission, error) {
	var env struct {
		StaffPermission StaffPermission `json:"staffPermission"`
	}
	if err := c.do(ctx, http.MethodGet, "/staff-permissions/"+url.PathEscape(staffID), nil, &env); err != nil {
		return StaffPermission{}, err
	}
	return env.StaffPermission, nil
}

// AssignStaffPermission creates the grant of a staff account.
func (c *Conn) AssignStaffPermission(ctx context.Context, staffID string, grant authz.CapabilityGrant) (StaffPermission, error) {
	payload := struct {
		StaffID     string                `json:"staffId"`
		Permissions authz.CapabilityGrant `json:"permissions"`
	}{staffID, grant}
	var env struct {
		StaffPermission StaffPermission `json:"staffPermission"`
	}
	if err := c.do(ctx, http.MethodPost, "/staff-permissions", payload, &env); err != nil {
		return StaffPermission{}, err
	}
	return env.StaffPermission, nil
}

// UpdateStaffPermission replaces the grant of a staff account.
func (c *Conn) UpdateStaffPermission(ctx context.Context, staffID string, grant authz.CapabilityGrant) (StaffPermission, error) {
	payload := struct {
		Permissions authz.CapabilityGrant `json:"permissions"`
	}{grant}
	var env struct {
		StaffPermission StaffPermission `json:"staffPermission"`
	}
	if err := c.do(ctx, http.MethodPut, "/staff-permissions/"+url.PathEscape(staffID), payload, &env); err != nil {
		return StaffPermission{}, err
	}
	return env.StaffPermission, nil
}

// RemoveStaffPermission deletes the grant of a staff account.
func (c *Conn) RemoveStaffPermission(ctx context.Context, staffID string) error {
	return c.do(ctx, http.MethodDelete, "/staff-permissions/"+url.PathEscape(staffID), nil, nil)
}
