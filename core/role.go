package core

import (
	"fmt"
	"strings"
)

// Role is one of the closed set of principal classes known to the admin panel.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleWriter  Role = "writer"
	RoleReader  Role = "reader"
)

// KnownRoles lists every role in rank order (highest first).
var KnownRoles = []Role{RoleAdmin, RoleManager, RoleWriter, RoleReader}

// ParseRole normalizes s and rejects anything outside the known set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleManager, RoleWriter, RoleReader:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Privileged reports whether the role may sign in to the admin panel at all.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleManager
}

// DisplayName is the label shown in the UI ("Admin", "Manager", ...).
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleManager:
		return "Manager"
	case RoleWriter:
		return "Writer"
	case RoleReader:
		return "Reader"
	default:
		return "Unknown"
	}
}
