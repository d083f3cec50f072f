package core

import "slices"

const (
	RoleAdmin = "ROLE_ADMIN"
	RoleUser  = "ROLE_USER"
)

// Requester is the authenticated identity behind a call.
type Requester struct {
	Username string
	Roles    []string
}

func (r Requester) HasRole(role string) bool {
	return slices.Contains(r.Roles, role)
}

// CanDelete allows the image owner and administrators. Unowned images can only be
// deleted by administrators.
func CanDelete(requester Requester, owner string) bool {
	if requester.HasRole(RoleAdmin) {
		return true
	}
	return requester.Username != "" && requester.Username == owner
}
