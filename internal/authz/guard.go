package authz

import "slices"

// Console paths used by guard redirects.
const (
	LoginPath     = "/login"
	AdminHomePath = "/dashboard"
	StaffHomePath = "/staff/dashboard"
)

// DecisionKind enumerates guard outcomes.
type DecisionKind int

const (
	DecisionLoading DecisionKind = iota
	DecisionAllow
	DecisionRedirectToLogin
	DecisionRedirectToRoleHome
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAllow:
		return "allow"
	case DecisionRedirectToLogin:
		return "redirect_login"
	case DecisionRedirectToRoleHome:
		return "redirect_role_home"
	default:
		return "loading"
	}
}

// Decision is the outcome of Authorize. Location is set for redirects.
type Decision struct {
	Kind     DecisionKind
	Location string
}

// Allowed reports whether the decision admits the visitor.
func (d Decision) Allowed() bool {
	return d.Kind == DecisionAllow
}

// Authorize decides whether a visitor in state s may open a screen requiring
// one of the given roles. An empty role list only requires authentication.
func Authorize(s Snapshot, required []Role) Decision {
	if s.Loading() {
		return Decision{Kind: DecisionLoading}
	}
	if !s.Identity.Authenticated() {
		return Decision{Kind: DecisionRedirectToLogin, Location: LoginPath}
	}
	role := s.Identity.Role()
	if len(required) > 0 && !slices.Contains(required, role) {
		return Decision{Kind: DecisionRedirectToRoleHome, Location: HomePath(role)}
	}
	return Decision{Kind: DecisionAllow}
}

// HomePath maps a role to its landing screen.
func HomePath(role Role) string {
	switch role {
	case RoleStaff:
		return StaffHomePath
	case RoleSuperAdmin:
		return AdminHomePath
	default:
		return LoginPath
	}
}

// HomeFor resolves the root redirect for a visitor regardless of any route's
// role requirement.
func HomeFor(s Snapshot) string {
	if !s.Identity.Authenticated() {
		return LoginPath
	}
	return HomePath(s.Identity.Role())
}
