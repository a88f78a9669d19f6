// Package access decides who may do what: a static role × resource ×
// permission capability table, built once at startup and never mutated.
package access

import (
	"slices"
	"strings"

	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSupervisor Role = "SUPERVISOR"
	RoleHR         Role = "HR"
	RoleFinance    Role = "FINANCE"
	RoleEmployee   Role = "EMPLOYEE"
	// RoleSystem is never issued by Identity. The completion hook acts under it.
	RoleSystem Role = "SYSTEM"
)

type Resource string

const (
	ResourceLeave     Resource = "leave"
	ResourceOperation Resource = "operation"
	ResourceIncident  Resource = "incident"
	ResourceUser      Resource = "user"
	ResourceReport    Resource = "report"
)

type Permission string

const (
	PermRead     Permission = "read"
	PermCreate   Permission = "create"
	PermUpdate   Permission = "update"
	PermDelete   Permission = "delete"
	PermApprove  Permission = "approve"
	PermReject   Permission = "reject"
	PermEscalate Permission = "escalate"
)

// Actor is the authenticated caller as resolved by Identity.
type Actor struct {
	ID         id.UserID `json:"id"`
	Role       Role      `json:"role"`
	Department string    `json:"department"`
}

// ParseRole accepts role names case-insensitively. RoleSystem is not parseable.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleSupervisor, RoleHR, RoleFinance, RoleEmployee:
		return r, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
}

// Table is the declarative form of a capability matrix.
type Table map[Role]map[Resource][]Permission

// DefaultTable returns the production capability table.
//
// FINANCE holds leave read/approve/reject because a billable stand-in puts a
// FINANCE_MANAGER level on the leave chain. ADMIN, SUPERVISOR and HR hold
// approve/reject on incidents so incident chains can be resolved.
func DefaultTable() Table {
	return Table{
		RoleAdmin: {
			ResourceLeave:     {PermRead, PermCreate, PermUpdate, PermDelete, PermApprove, PermReject},
			ResourceOperation: {PermRead, PermCreate, PermUpdate, PermDelete, PermApprove, PermReject},
			ResourceIncident:  {PermRead, PermCreate, PermUpdate, PermDelete, PermApprove, PermReject, PermEscalate},
			ResourceUser:      {PermRead, PermCreate, PermUpdate, PermDelete},
			ResourceReport:    {PermRead, PermCreate},
		},
		RoleSupervisor: {
			ResourceLeave:     {PermRead, PermApprove, PermReject},
			ResourceOperation: {PermRead, PermCreate, PermApprove, PermReject},
			ResourceIncident:  {PermRead, PermCreate, PermUpdate, PermApprove, PermReject, PermEscalate},
			ResourceUser:      {PermRead},
			ResourceReport:    {PermRead},
		},
		RoleHR: {
			ResourceLeave:    {PermRead, PermCreate, PermUpdate, PermApprove, PermReject},
			ResourceIncident: {PermRead, PermCreate, PermUpdate, PermApprove, PermReject, PermEscalate},
			ResourceUser:     {PermRead, PermCreate, PermUpdate},
			ResourceReport:   {PermRead, PermCreate},
		},
		RoleFinance: {
			ResourceLeave:     {PermRead, PermApprove, PermReject},
			ResourceOperation: {PermRead, PermUpdate, PermApprove, PermReject},
			ResourceReport:    {PermRead, PermCreate},
		},
		RoleEmployee: {
			ResourceLeave:     {PermRead, PermCreate},
			ResourceOperation: {PermRead, PermCreate},
			ResourceIncident:  {PermRead, PermCreate},
			ResourceUser:      {PermRead},
			ResourceReport:    {PermRead},
		},
	}
}

type permSet map[Permission]struct{}

// Matrix is an immutable capability lookup. It is safe for concurrent use
// because nothing mutates it after NewMatrix returns.
type Matrix struct {
	grants map[Role]map[Resource]permSet
}

// NewMatrix builds a Matrix from table. The table is copied, so later changes
// to the argument do not leak into the Matrix.
func NewMatrix(table Table) *Matrix {
	grants := make(map[Role]map[Resource]permSet, len(table))
	for role, resources := range table {
		byRes := make(map[Resource]permSet, len(resources))
		for res, perms := range resources {
			set := make(permSet, len(perms))
			for _, p := range perms {
				set[p] = struct{}{}
			}
			byRes[res] = set
		}
		grants[role] = byRes
	}
	return &Matrix{grants: grants}
}

// NewDefaultMatrix builds the matrix from DefaultTable.
func NewDefaultMatrix() *Matrix {
	return NewMatrix(DefaultTable())
}

// HasPermission reports whether role holds permission on resource.
// Unknown roles and resources yield false.
func (m *Matrix) HasPermission(role Role, resource Resource, permission Permission) bool {
	set, ok := m.grants[role][resource]
	if !ok {
		return false
	}
	_, ok = set[permission]
	return ok
}

// HasAnyPermission reports whether role holds at least one of permissions.
func (m *Matrix) HasAnyPermission(role Role, resource Resource, permissions ...Permission) bool {
	return slices.ContainsFunc(permissions, func(p Permission) bool {
		return m.HasPermission(role, resource, p)
	})
}

// Permissions returns a sorted copy of everything role may do.
func (m *Matrix) Permissions(role Role) map[Resource][]Permission {
	out := make(map[Resource][]Permission, len(m.grants[role]))
	for res, set := range m.grants[role] {
		perms := make([]Permission, 0, len(set))
		for p := range set {
			perms = append(perms, p)
		}
		slices.Sort(perms)
		out[res] = perms
	}
	return out
}
