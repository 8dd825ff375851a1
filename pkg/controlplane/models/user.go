package models

import (
	"fmt"
	"time"
)

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleAdmin has full permissions, including user management.
	RoleAdmin UserRole = "admin"
	// RoleOperator may manage machines, images, and sessions.
	RoleOperator UserRole = "operator"
	// RoleViewer has read-only access.
	RoleViewer UserRole = "viewer"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	return r == RoleAdmin || r == RoleOperator || r == RoleViewer
}

// AdminUsername is the name of the bootstrap administrator account.
const AdminUsername = "admin"

// User represents an operator account for API authentication and authorization.
//
// Accounts are deactivated rather than deleted so that audit records keep a
// valid actor reference.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:viewer;size:50" json:"role"`
	Active       bool       `gorm:"default:true" json:"active"`
	FailedLogins int        `gorm:"default:0" json:"-"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Role != "" && !UserRole(u.Role).IsValid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	return nil
}

// IsAdmin checks if the user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == string(RoleAdmin)
}

// CanOperate checks if the user may start/stop sessions and manage
// machines and images (admin or operator).
func (u *User) CanOperate() bool {
	return u.Role == string(RoleAdmin) || u.Role == string(RoleOperator)
}

// IsLocked reports whether the account is locked out at the given instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// GetRole returns the user's role as a UserRole type.
func (u *User) GetRole() UserRole {
	return UserRole(u.Role)
}
