package models

import "time"

type UserRole string

const (
	RoleParticipant UserRole = "participant"
	RoleOrganizer   UserRole = "organizer"
	RoleAdmin       UserRole = "admin"
)

// Audience is the eligibility bucket a user belongs to and an event targets.
type Audience string

const (
	AudienceAll      Audience = "all"
	AudienceStudents Audience = "students"
	AudienceStaff    Audience = "staff"
)

type User struct {
	ID           int       `json:"id" db:"id"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         UserRole  `json:"role" db:"role"`
	Audience     Audience  `json:"audience" db:"audience"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// IsStaffRole reports whether the user may perform organizer actions
// (approve payments, mark attendance, manage events).
func (u *User) IsStaffRole() bool {
	return u.Role == RoleOrganizer || u.Role == RoleAdmin
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
