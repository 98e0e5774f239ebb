package model

import (
	"time"
)

// AdminLevel distinguishes the single primary admin of a school from the
// additional secondary admins.
type AdminLevel string

const (
	AdminLevelPrimary   AdminLevel = "primary"
	AdminLevelSecondary AdminLevel = "secondary"
)

// AdminPermission is 1:1 with a school_admin user. A primary admin holds
// every capability implicitly; a secondary admin holds the explicit set in
// Capabilities. At most one primary admin exists per school, and the primary
// record is never edited or deleted through admin management.
type AdminPermission struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	UserID       uint          `json:"user_id" gorm:"uniqueIndex;not null"`
	SchoolID     uint          `json:"school_id" gorm:"index;not null"`
	Level        AdminLevel    `json:"level" gorm:"type:varchar(10);not null"`
	Capabilities CapabilitySet `json:"-" gorm:"not null;default:0"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// Allows reports whether this permission record grants the capability.
func (p *AdminPermission) Allows(c Capability) bool {
	if p.Level == AdminLevelPrimary {
		return true
	}
	return p.Capabilities.Has(c)
}
