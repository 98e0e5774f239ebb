package model

import (
	"time"
)

// ApplicationStatus represents the lifecycle status of an enrollment
// application
type ApplicationStatus string

const (
	ApplicationStatusPendente    ApplicationStatus = "pendente"
	ApplicationStatusEmAnalise   ApplicationStatus = "em_analise"
	ApplicationStatusAprovada    ApplicationStatus = "aprovada"
	ApplicationStatusRejeitada   ApplicationStatus = "rejeitada"
	ApplicationStatusMatriculada ApplicationStatus = "matriculada"
)

// Application is a request to join a school under a role. The tracking token
// is a high-entropy opaque string usable without authentication to poll
// status. Once matriculada the row is terminal and permanently linked to the
// created user and role entity.
type Application struct {
	ID            uint              `json:"id" gorm:"primaryKey"`
	Name          string            `json:"name" gorm:"type:varchar(150);not null"`
	Email         string            `json:"email" gorm:"type:varchar(100);index;not null"`
	Phone         string            `json:"phone,omitempty" gorm:"type:varchar(30)"`
	Role          Role              `json:"role" gorm:"type:varchar(20);not null"`
	SchoolID      uint              `json:"school_id" gorm:"index;not null"`
	Status        ApplicationStatus `json:"status" gorm:"type:varchar(20);index;not null;default:'pendente'"`
	RejectReason  *string           `json:"reject_reason,omitempty" gorm:"type:text"`
	TrackingToken string            `json:"tracking_token" gorm:"type:varchar(64);uniqueIndex;not null"`

	// Set when a signed-in user submitted the application; only that user
	// may cancel it.
	ApplicantUserID *uint `json:"applicant_user_id,omitempty" gorm:"index"`

	// Student-only payload.
	DocumentType    *string    `json:"document_type,omitempty" gorm:"type:varchar(20)"`
	DocumentNumber  *string    `json:"document_number,omitempty" gorm:"type:varchar(30)"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	DesiredGrade    *string    `json:"desired_grade,omitempty" gorm:"type:varchar(30)"`
	DesiredCourseID *uint      `json:"desired_course_id,omitempty"`

	// Filled on enrollment.
	EnrolledUserID   *uint `json:"enrolled_user_id,omitempty"`
	EnrolledEntityID *uint `json:"enrolled_entity_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	School School `json:"-" gorm:"foreignKey:SchoolID"`
}

// ApplicationRoleValid reports whether the role may be applied for.
func ApplicationRoleValid(r Role) bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleParent, RoleSchoolAdmin:
		return true
	}
	return false
}
