package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleTeacher  UserRole = "TEACHER"
	RoleStudent  UserRole = "STUDENT"
	RoleHomeroom UserRole = "HOMEROOM"
)

// Valid reports whether the role is one the API understands.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleHomeroom:
		return true
	default:
		return false
	}
}

// User is an account mirrored from the identity provider.
type User struct {
	ID        string     `db:"id" json:"id"`
	Email     string     `db:"email" json:"email"`
	FullName  string     `db:"full_name" json:"full_name"`
	Role      UserRole   `db:"role" json:"role"`
	ClassID   *string    `db:"class_id" json:"class_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (u *User) DeletedAtTime() *time.Time { return u.DeletedAt }

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	ClassID  string
	Search   string
	Page     int
	PageSize int
}

// Pagination describes paging metadata in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
