package rbac

type Role string
type Action string

const (
	RoleDonor    Role = "donor"
	RoleHospital Role = "hospital"
	RoleLab      Role = "lab"
	RoleAdmin    Role = "admin"
	// RoleSystem is the identity used by background jobs such as the expiry sweep.
	RoleSystem Role = "system"
)

const (
	ActionCreateSOS     Action = "sos:create"
	ActionAcceptSOS     Action = "sos:accept"
	ActionDecideDonor   Action = "sos:decide"
	ActionListOwned     Action = "sos:list-owned"
	ActionDonorHistory  Action = "sos:donor-history"
	ActionDonorFeed     Action = "sos:donor-feed"
	ActionCleanup       Action = "sos:cleanup"
	ActionCancel        Action = "sos:cancel"
	ActionManageProfile Action = "profile:manage"
	ActionAdmin         Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action == ActionCleanup || action == ActionCancel || action == ActionAdmin
	case RoleSystem:
		return action == ActionCleanup
	case RoleHospital:
		return action == ActionCreateSOS || action == ActionDecideDonor || action == ActionListOwned || action == ActionManageProfile
	case RoleDonor:
		return action == ActionAcceptSOS || action == ActionDonorHistory || action == ActionDonorFeed || action == ActionManageProfile
	case RoleLab:
		return false
	default:
		return false
	}
}

// Normalize maps unknown role names to the empty role, which can do nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleDonor, RoleHospital, RoleLab, RoleAdmin, RoleSystem:
		return Role(role)
	default:
		return ""
	}
}

// Registrable reports whether a role may be chosen at self-registration.
func Registrable(role Role) bool {
	return role == RoleDonor || role == RoleHospital || role == RoleLab
}
