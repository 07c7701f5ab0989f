package models

import "time"

// Message is one chat line inside a session, annotated with the extractor's
// verdict. Append-only; owned by its session.
type Message struct {
	ID            string   `json:"id" gorm:"primaryKey"`
	SessionID     string   `json:"session_id" gorm:"index"`
	ParticipantID string   `json:"participant_id"`
	Role          Role     `json:"role"`
	Content       string   `json:"content" gorm:"type:text"`
	Offer         *float64 `json:"offer"`
	Confidence    float64  `json:"confidence"`
	Tag           string   `json:"tag"`

	CreatedAt time.Time `json:"created_at"`
}
