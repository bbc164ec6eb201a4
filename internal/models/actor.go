package models

import (
	"time"

	"gorm.io/gorm"
)

type ActorRole string

const (
	RoleStudent    ActorRole = "student"
	RoleInstructor ActorRole = "instructor"
	RoleAdmin      ActorRole = "admin"

	// RoleService is never stored in a profile row. It identifies the
	// pipeline's internal actor, which bypasses the access policy.
	RoleService ActorRole = "service"
)

// Actor is a user profile row. Rows are created by the post-registration
// hook with a defaulted role; only an admin may change the role afterwards.
type Actor struct {
	ID       string    `json:"id" gorm:"primaryKey;size:255"`
	Email    *string   `json:"email" gorm:"size:255;index"`
	FullName *string   `json:"full_name" gorm:"size:100"`
	Role     ActorRole `json:"role" gorm:"not null;default:student;size:20" validate:"omitempty,oneof=student instructor admin"`

	// StudentID is the institutional identifier used to match results.
	// Only set for student actors.
	StudentID *string `json:"student_id" gorm:"size:50;index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Actor) TableName() string {
	return "profiles"
}

// ServiceActor returns the internal pipeline identity. It is not backed by
// a profile row and must never be handed to an end-user request.
func ServiceActor() *Actor {
	return &Actor{ID: "evaluation-service", Role: RoleService}
}

func (a *Actor) IsService() bool {
	return a != nil && a.Role == RoleService
}

func (a *Actor) IsStaff() bool {
	return a != nil && (a.Role == RoleInstructor || a.Role == RoleAdmin)
}
