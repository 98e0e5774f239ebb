package model

import (
	"time"
)

// Role represents the authentication role of a user
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleSchoolAdmin Role = "school_admin"
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
	RoleParent      Role = "parent"
)

// AuthProvider identifies how the user authenticates
type AuthProvider string

const (
	ProviderCredentials AuthProvider = "credentials"
	ProviderGoogle      AuthProvider = "google"
)

// User represents an authentication account. SchoolID is nil only for
// super_admin users; every other role belongs to exactly one school.
type User struct {
	ID                 uint         `json:"id" gorm:"primaryKey"`
	Email              string       `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	Password           string       `json:"-" gorm:"type:varchar(255)"`
	Role               Role         `json:"role" gorm:"type:varchar(20);index;not null"`
	SchoolID           *uint        `json:"school_id,omitempty" gorm:"index"`
	IsActive           bool         `json:"is_active" gorm:"not null;default:true"`
	MustChangePassword bool         `json:"must_change_password" gorm:"not null;default:false"`

	// Set when a school suspension deactivated this account. Reverting the
	// suspension reactivates only flagged accounts, so individually removed
	// ones stay out.
	SuspendedWithSchool bool `json:"-" gorm:"not null;default:false"`

	Provider  AuthProvider `json:"provider,omitempty" gorm:"type:varchar(20)"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HasRoleEntity reports whether this role is backed by a Teacher/Student/
// Parent record.
func (r Role) HasRoleEntity() bool {
	return r == RoleTeacher || r == RoleStudent || r == RoleParent
}
