package model

import (
	"time"
)

// Role entities represent domain identity inside a school, distinct from the
// authentication User. Each may exist without a linked user (no portal
// access yet), but a user of role teacher/student/parent references exactly
// one of them.

// Teacher is the teacher role entity.
type Teacher struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SchoolID    uint      `json:"school_id" gorm:"index;not null"`
	UserID      *uint     `json:"user_id,omitempty" gorm:"uniqueIndex"`
	Name        string    `json:"name" gorm:"type:varchar(150);not null"`
	Email       string    `json:"email" gorm:"type:varchar(100);index"`
	Phone       string    `json:"phone,omitempty" gorm:"type:varchar(30)"`
	SubjectArea string    `json:"subject_area,omitempty" gorm:"type:varchar(100)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Student is the student role entity, carrying the enrollment payload from
// the application that created it.
type Student struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	SchoolID       uint       `json:"school_id" gorm:"index;not null"`
	UserID         *uint      `json:"user_id,omitempty" gorm:"uniqueIndex"`
	Name           string     `json:"name" gorm:"type:varchar(150);not null"`
	Email          string     `json:"email" gorm:"type:varchar(100);index"`
	Phone          string     `json:"phone,omitempty" gorm:"type:varchar(30)"`
	DocumentType   string     `json:"document_type,omitempty" gorm:"type:varchar(20)"`
	DocumentNumber string     `json:"document_number,omitempty" gorm:"type:varchar(30)"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	DesiredGrade   string     `json:"desired_grade,omitempty" gorm:"type:varchar(30)"`
	CourseID       *uint      `json:"course_id,omitempty" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Parent is the parent/guardian role entity.
type Parent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SchoolID  uint      `json:"school_id" gorm:"index;not null"`
	UserID    *uint     `json:"user_id,omitempty" gorm:"uniqueIndex"`
	Name      string    `json:"name" gorm:"type:varchar(150);not null"`
	Email     string    `json:"email" gorm:"type:varchar(100);index"`
	Phone     string    `json:"phone,omitempty" gorm:"type:varchar(30)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
