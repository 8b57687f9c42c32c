// Package roles is the hierarchical role directory of the certification
// system. The role set is closed: each non-SuperAdmin role has exactly one
// admin role, and only holders of that admin role may grant or revoke it.
package roles

import (
	"errors"
	"fmt"
	"strings"
)

// Role is one of the fixed organizational roles.
type Role string

const (
	SuperAdmin           Role = "super_admin"
	PlantOperatorAdmin   Role = "plant_operator_admin"
	Manufacturer         Role = "manufacturer"
	Laboratory           Role = "laboratory"
	RegulatoryAuthority  Role = "regulatory_authority"
	CertificationOfficer Role = "certification_officer"
)

var (
	ErrUnauthorized        = errors.New("roles: acting account does not hold the admin role")
	ErrInvalidInput        = errors.New("roles: invalid input")
	ErrUnknownRole         = errors.New("roles: unknown role")
	ErrRoleAlreadyAssigned = errors.New("roles: role already assigned")
)

// All lists every grantable role.
var All = []Role{
	SuperAdmin,
	PlantOperatorAdmin,
	Manufacturer,
	Laboratory,
	RegulatoryAuthority,
	CertificationOfficer,
}

// ViewPriority is the fixed order in which a document viewer's role is
// resolved. A viewer holding several roles is evaluated under the first match
// only; this tie-break is part of the access contract and must not change.
var ViewPriority = []Role{
	PlantOperatorAdmin,
	Manufacturer,
	Laboratory,
	RegulatoryAuthority,
	CertificationOfficer,
}

// Valid reports whether r is one of the fixed roles.
func (r Role) Valid() bool {
	switch r {
	case SuperAdmin, PlantOperatorAdmin, Manufacturer, Laboratory, RegulatoryAuthority, CertificationOfficer:
		return true
	}
	return false
}

// Admin returns the role authorized to grant and revoke r. PlantOperatorAdmin
// answers to SuperAdmin; the four operational roles answer to
// PlantOperatorAdmin; SuperAdmin administers itself.
func Admin(r Role) Role {
	switch r {
	case PlantOperatorAdmin, SuperAdmin:
		return SuperAdmin
	default:
		return PlantOperatorAdmin
	}
}

// Parse converts an external role name into a Role.
func Parse(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return r, nil
}
