package authz

import (
	"strings"
	"time"
)

// Role is the account role reported by the upstream service.
type Role string

const (
	RoleSuperAdmin Role = "Super_Admin"
	RoleStaff      Role = "Staff"
	RoleStudent    Role = "Student"
)

// ParseRole maps a raw upstream role name onto a Role. Unknown names are kept
// verbatim so guards can still reject them.
func ParseRole(raw string) Role {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "super_admin", "superadmin":
		return RoleSuperAdmin
	case "staff":
		return RoleStaff
	case "student":
		return RoleStudent
	}
	return Role(trimmed)
}

// Label returns the role name with underscores replaced by spaces.
func (r Role) Label() string {
	return strings.ReplaceAll(string(r), "_", " ")
}

// User is the account record of the authenticated visitor.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Kind enumerates the identity variants.
type Kind int

const (
	KindAnonymous Kind = iota
	KindAdmin
	KindStaff
)

func (k Kind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	case KindStaff:
		return "staff"
	default:
		return "anonymous"
	}
}

// Identity is the canonical current identity of a visitor: anonymous, an
// administrator session, or a staff session carrying its capability grant.
type Identity struct {
	kind  Kind
	user  User
	grant CapabilityGrant
}

// Anonymous returns the unauthenticated identity.
func Anonymous() Identity {
	return Identity{kind: KindAnonymous}
}

// AdminSession returns an administrator identity.
func AdminSession(user User) Identity {
	return Identity{kind: KindAdmin, user: user}
}

// StaffSession returns a staff identity with its resolved grant.
func StaffSession(user User, grant CapabilityGrant) Identity {
	return Identity{kind: KindStaff, user: user, grant: grant}
}

// Kind reports the identity variant.
func (i Identity) Kind() Kind {
	return i.kind
}

// Authenticated reports whether the identity is not anonymous.
func (i Identity) Authenticated() bool {
	return i.kind != KindAnonymous
}

// User returns the account record; ok is false for anonymous identities.
func (i Identity) User() (User, bool) {
	if i.kind == KindAnonymous {
		return User{}, false
	}
	return i.user, true
}

// Role returns the role of the authenticated account, or "" when anonymous.
func (i Identity) Role() Role {
	if i.kind == KindAnonymous {
		return ""
	}
	return i.user.Role
}

// Grant returns the capability grant. Administrators hold every capability,
// anonymous visitors none.
func (i Identity) Grant() CapabilityGrant {
	switch i.kind {
	case KindAdmin:
		return FullGrant()
	case KindStaff:
		return i.grant
	default:
		return DefaultGrant()
	}
}

// Can reports whether the identity may perform the capability.
func (i Identity) Can(c Capability) bool {
	return i.Grant().Allows(c)
}
