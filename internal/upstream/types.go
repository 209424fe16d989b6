package upstream

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/campusdesk/campusdesk/internal/authz"
)

// Grades lists the grade levels accepted for student records.
var Grades = []string{
	"Kindergarten",
	"1st Grade", "2nd Grade", "3rd Grade", "4th Grade", "5th Grade", "6th Grade",
	"7th Grade", "8th Grade", "9th Grade", "10th Grade", "11th Grade", "12th Grade",
}

// wireRole accepts a role sent either as a bare string or as {"name": ...}.
type wireRole struct {
	authz.Role
}

func (r *wireRole) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		r.Role = authz.ParseRole(obj.Name)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	r.Role = authz.ParseRole(name)
	return nil
}

type wireUser struct {
	ID        string     `json:"id"`
	MongoID   string     `json:"_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      wireRole   `json:"role"`
	IsActive  *bool      `json:"isActive"`
	CreatedAt *time.Time `json:"createdAt"`
}

func (w wireUser) user() authz.User {
	u := authz.User{
		ID:       w.ID,
		Name:     w.Name,
		Email:    w.Email,
		Role:     w.Role.Role,
		IsActive: w.IsActive == nil || *w.IsActive,
	}
	if u.ID == "" {
		u.ID = w.MongoID
	}
	if w.CreatedAt != nil {
		u.CreatedAt = *w.CreatedAt
	}
	return u
}

func usersOf(wire []wireUser) []authz.User {
	users := make([]authz.User, 0, len(wire))
	for _, w := range wire {
		users = append(users, w.user())
	}
	return users
}

// Account is the payload for creating or updating a user account.
type Account struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Password string     `json:"password,omitempty"`
	Role     authz.Role `json:"role,omitempty"`
	IsActive bool       `json:"isActive"`
}

// Address is a student's postal address.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

// ContactInfo groups a student's contact details.
type ContactInfo struct {
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

// Student is a student record owned by the upstream service.
type Student struct {
	ID            string      `json:"_id,omitempty"`
	Name          string      `json:"name"`
	Age           int         `json:"age"`
	Grade         string      `json:"grade"`
	ContactInfo   ContactInfo `json:"contactInfo"`
	ParentName    string      `json:"parentName"`
	ParentContact string      `json:"parentContact"`
	CreatedAt     *time.Time  `json:"createdAt,omitempty"`
}

// StaffPermission is the capability grant assigned to one staff account.
type StaffPermission struct {
	ID          string
	StaffID     string
	Staff       *authz.User
	Permissions authz.CapabilityGrant
}

func (p *StaffPermission) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID          string                `json:"_id"`
		StaffID     json.RawMessage       `json:"staffId"`
		Permissions authz.CapabilityGrant `json:"permissions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p.ID = wire.ID
	p.Permissions = wire.Permissions
	ref := bytes.TrimSpace(wire.StaffID)
	switch {
	case len(ref) == 0 || bytes.Equal(ref, []byte("null")):
	case ref[0] == '"':
		if err := json.Unmarshal(ref, &p.StaffID); err != nil {
			return err
		}
	default:
		var staff wireUser
		if err := json.Unmarshal(ref, &staff); err != nil {
			return err
		}
		user := staff.user()
		p.Staff = &user
		p.StaffID = user.ID
	}
	return nil
}
