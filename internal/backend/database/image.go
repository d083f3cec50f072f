package database

import "strings"

// Image is the metadata record of a stored file. Name doubles as the on-disk filename.
type Image struct {
	Name  string `db:"name" json:"name"`
	Owner string `db:"owner" json:"owner,omitempty"` // username of the owning user, empty when unowned
}

type User struct {
	Username     string   `db:"username" json:"username"`
	PasswordHash string   `db:"password_hash" json:"passwordHash"`
	Roles        []string `db:"roles" json:"roles"`
}

const roleSeparator = ","

func joinRoles(roles []string) string {
	return strings.Join(roles, roleSeparator)
}

func splitRoles(roles string) []string {
	if roles == "" {
		return nil
	}
	return strings.Split(roles, roleSeparator)
}
