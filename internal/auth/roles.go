package auth

// Role orders API callers by what they may do to an alarm. Viewers
// read alarm and run state, operators additionally arm, silence and
// dismiss, admins cover everything else. The request policy maps
// routes onto this ladder.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// NormalizeRole validates a claim value against the known roles.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleOperator, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast reports whether role sits at or above required on the
// ladder. Unknown roles rank below viewer and satisfy nothing.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
