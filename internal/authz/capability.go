package authz

import (
	"bytes"
	"encoding/json"
)

// Capability names a single action on a resource.
type Capability string

const (
	CapStudentsCreate Capability = "students.create"
	CapStudentsRead   Capability = "students.read"
	CapStudentsUpdate Capability = "students.update"
	CapStudentsDelete Capability = "students.delete"
)

// StudentCapabilities lists the capabilities in display order.
func StudentCapabilities() []Capability {
	return []Capability{CapStudentsRead, CapStudentsCreate, CapStudentsUpdate, CapStudentsDelete}
}

// Label returns the human readable name shown on dashboards.
func (c Capability) Label() string {
	switch c {
	case CapStudentsCreate:
		return "Create Students"
	case CapStudentsRead:
		return "View Students"
	case CapStudentsUpdate:
		return "Edit Students"
	case CapStudentsDelete:
		return "Delete Students"
	}
	return string(c)
}

// Actions holds the CRUD flags for one resource.
type Actions struct {
	CanCreate bool `json:"canCreate"`
	CanRead   bool `json:"canRead"`
	CanUpdate bool `json:"canUpdate"`
	CanDelete bool `json:"canDelete"`
}

// CapabilityGrant is the per-staff permission map.
type CapabilityGrant struct {
	Students Actions `json:"students"`
}

// DefaultGrant returns the all-denied grant.
func DefaultGrant() CapabilityGrant {
	return CapabilityGrant{}
}

// FullGrant returns a grant allowing every action.
func FullGrant() CapabilityGrant {
	return CapabilityGrant{Students: Actions{CanCreate: true, CanRead: true, CanUpdate: true, CanDelete: true}}
}

// Allows reports whether the grant permits the capability.
func (g CapabilityGrant) Allows(c Capability) bool {
	switch c {
	case CapStudentsCreate:
		return g.Students.CanCreate
	case CapStudentsRead:
		return g.Students.CanRead
	case CapStudentsUpdate:
		return g.Students.CanUpdate
	case CapStudentsDelete:
		return g.Students.CanDelete
	}
	return false
}

// Active lists the granted capabilities in display order.
func (g CapabilityGrant) Active() []Capability {
	var active []Capability
	for _, c := range StudentCapabilities() {
		if g.Allows(c) {
			active = append(active, c)
		}
	}
	return active
}

type rawActions struct {
	CanCreate *bool `json:"canCreate"`
	CanRead   *bool `json:"canRead"`
	CanUpdate *bool `json:"canUpdate"`
	CanDelete *bool `json:"canDelete"`
}

type rawGrantEnvelope struct {
	StaffPermission *struct {
		Permissions *struct {
			Students *rawActions `json:"students"`
		} `json:"permissions"`
	} `json:"staffPermission"`
}

// Resolve turns the outcome of a permission fetch into a well-formed grant.
// Any failure, an empty body, or a body missing the students map yields the
// default-denied grant; individual missing flags are false.
func Resolve(body []byte, fetchErr error) CapabilityGrant {
	if fetchErr != nil {
		return DefaultGrant()
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return DefaultGrant()
	}
	var env rawGrantEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return DefaultGrant()
	}
	if env.StaffPermission == nil || env.StaffPermission.Permissions == nil || env.StaffPermission.Permissions.Students == nil {
		return DefaultGrant()
	}
	return CapabilityGrant{Students: normalizeActions(*env.StaffPermission.Permissions.Students)}
}

// normalizeActions fills missing flags with false.
func normalizeActions(raw rawActions) Actions {
	return Actions{
		CanCreate: flag(raw.CanCreate),
		CanRead:   flag(raw.CanRead),
		CanUpdate: flag(raw.CanUpdate),
		CanDelete: flag(raw.CanDelete),
	}
}

func flag(v *bool) bool {
	return v != nil && *v
}
