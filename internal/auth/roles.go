package auth

// Reviewer and clerk roles recognised by the approval pipeline. Role names
// are stored lower-case; dedupeRoles normalises incoming claims.
const (
	RoleClerk              = "clerk"
	RoleController         = "controller"
	RoleAuthorizingOfficer = "authorizing_officer"
	RoleAccountant         = "accountant"
)

// KnownRole reports whether the role is one the pipeline understands.
func KnownRole(role string) bool {
	switch role {
	case RoleClerk, RoleController, RoleAuthorizingOfficer, RoleAccountant:
		return true
	}
	return false
}
