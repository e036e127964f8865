package models

import "time"

type TeamMemberStatus string

const (
	MemberPending  TeamMemberStatus = "pending"
	MemberAccepted TeamMemberStatus = "accepted"
	MemberDeclined TeamMemberStatus = "declined"
)

type TeamMember struct {
	ID          int              `json:"id" db:"id"`
	TeamID      int              `json:"team_id" db:"team_id"`
	UserID      int              `json:"user_id" db:"user_id"`
	Status      TeamMemberStatus `json:"status" db:"status"`
	InvitedAt   time.Time        `json:"invited_at" db:"invited_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty" db:"responded_at"`

	User *User `json:"user,omitempty" db:"-"`
}

type Team struct {
	ID         int    `json:"id" db:"id"`
	EventID    int    `json:"event_id" db:"event_id"`
	Name       string `json:"name" db:"name"`
	LeaderID   int    `json:"leader_id" db:"leader_id"`
	TeamSize   int    `json:"team_size" db:"team_size"`
	InviteCode string `json:"invite_code" db:"invite_code"`
	IsComplete bool   `json:"is_complete" db:"is_complete"`
	// RegistrationID points at the leader's registration once the team
	// completed and the batch was issued.
	RegistrationID *int      `json:"registration_id,omitempty" db:"registration_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`

	Leader  *User        `json:"leader,omitempty" db:"-"`
	Event   *Event       `json:"event,omitempty" db:"-"`
	Members []TeamMember `json:"members,omitempty" db:"-"`
}

// HasMember reports whether userID appears in the loaded member list
// with a non-declined status.
func (t *Team) HasMember(userID int) bool {
	for _, m := range t.Members {
		if m.UserID == userID && m.Status != MemberDeclined {
			return true
		}
	}
	return false
}
