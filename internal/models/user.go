package models

import "time"

// UserRole enumerates the staff roles driving RBAC and routing of requests.
type UserRole string

const (
	RoleAssigner UserRole = "asignador"
	RoleHandler  UserRole = "responsable"
	RoleReviewer UserRole = "revisor"
	RoleSigner   UserRole = "firmante"
	RoleAdmin    UserRole = "admin"
)

// Valid reports whether the role is one of the closed staff role set.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAssigner, RoleHandler, RoleReviewer, RoleSigner, RoleAdmin:
		return true
	default:
		return false
	}
}

// User represents a staff member able to act on requests.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	FullName     string    `db:"full_name" json:"full_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
