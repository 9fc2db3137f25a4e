package models

import (
	"strings"
	"time"
)

// UserRole is the coarse permission level carried in access tokens.
type UserRole string

const (
	RoleAdmin          UserRole = "admin"
	RoleSupervisor     UserRole = "supervisor"
	RoleTeacherTrainee UserRole = "teacherTrainee"
)

// Valid reports whether the role is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleTeacherTrainee:
		return true
	default:
		return false
	}
}

// User is a trainee, supervisor or administrator account.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Identifier   string     `db:"identifier" json:"identifier"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Info is the public projection returned next to a token pair.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Identifier: u.Identifier,
		Role:       u.Role,
	}
}

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

// UserFilter narrows account listings. It binds straight from the query string.
type UserFilter struct {
	Role     *UserRole `form:"role"`
	Active   *bool     `form:"active"`
	Search   string    `form:"search"`
	Page     int       `form:"page"`
	PageSize int       `form:"limit"`
}

// Normalize trims the search term and clamps paging to sane bounds.
func (f *UserFilter) Normalize() {
	f.Search = strings.TrimSpace(f.Search)
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = defaultUserPageSize
	case f.PageSize > maxUserPageSize:
		f.PageSize = maxUserPageSize
	}
}

// Offset is the number of rows skipped before the current page.
func (f UserFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
