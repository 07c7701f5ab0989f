package models

import "time"

// Role is the side a participant argues in a negotiation.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Opposite returns the counterpart role.
func (r Role) Opposite() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// Participant is created when a subject completes the intake survey and is
// never deleted; an offline participant stays addressable for reconnection.
type Participant struct {
	ID          string   `json:"id" gorm:"primaryKey"`
	Name        string   `json:"name"`
	RoomID      string   `json:"room_id" gorm:"index"`
	SessionID   string   `json:"session_id" gorm:"index"` // empty when unpaired
	Role        Role     `json:"role"`
	RoleHistory []Role   `json:"role_history" gorm:"serializer:json"`
	Partners    []string `json:"partners" gorm:"serializer:json"`
	Online      bool     `json:"online"`
	Moderator   bool     `json:"moderator"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Paired reports whether the participant is in an active session.
func (p *Participant) Paired() bool {
	return p.SessionID != ""
}
