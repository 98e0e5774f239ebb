package model

import (
	"time"
)

// SchoolStatus represents the lifecycle status of a school (tenant)
type SchoolStatus string

const (
	SchoolStatusPendente  SchoolStatus = "pendente"
	SchoolStatusAprovada  SchoolStatus = "aprovada"
	SchoolStatusAtiva     SchoolStatus = "ativa"
	SchoolStatusSuspensa  SchoolStatus = "suspensa"
	SchoolStatusRejeitada SchoolStatus = "rejeitada"
)

// School represents a tenant. Every user, role entity and application is
// scoped to exactly one school. The slug is immutable after creation.
type School struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	Name         string       `json:"name" gorm:"type:varchar(150);not null"`
	Slug         string       `json:"slug" gorm:"type:varchar(60);uniqueIndex;not null"`
	Status       SchoolStatus `json:"status" gorm:"type:varchar(20);index;not null;default:'pendente'"`
	RejectReason *string      `json:"reject_reason,omitempty" gorm:"type:text"`
	Email        string       `json:"email" gorm:"type:varchar(100);not null"`
	Phone        string       `json:"phone,omitempty" gorm:"type:varchar(30)"`
	Address      string       `json:"address,omitempty" gorm:"type:varchar(255)"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AllowsSignIn reports whether regular users of this school may sign in.
// During the pendente/aprovada review stages only the school's admin may,
// which the login path checks separately.
func (s SchoolStatus) AllowsSignIn() bool {
	return s == SchoolStatusAtiva
}

// UnderReview reports whether the school is still in a pre-activation stage.
func (s SchoolStatus) UnderReview() bool {
	return s == SchoolStatusPendente || s == SchoolStatusAprovada
}
