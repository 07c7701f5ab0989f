package models

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionNegotiating SessionStatus = "negotiating"
	SessionDealPending SessionStatus = "deal_pending"
	SessionSettled     SessionStatus = "settled"
	SessionAbandoned   SessionStatus = "abandoned"
)

// Session is one buyer/seller negotiation over one product in one round.
type Session struct {
	ID       string  `json:"id" gorm:"primaryKey"`
	RoomID   string  `json:"room_id" gorm:"index"`
	Round    int     `json:"round"`
	BuyerID  string  `json:"buyer_id" gorm:"index"`
	SellerID string  `json:"seller_id" gorm:"index"`
	Product  Product `json:"product" gorm:"serializer:json"`

	Status SessionStatus `json:"status"`

	// Latest extracted offer per role; replaced monotonically, never
	// reverted within a session.
	BuyerOffer  *float64 `json:"buyer_offer"`
	SellerOffer *float64 `json:"seller_offer"`

	// Pending confirmation price per role. Repeated confirmations replace
	// the value; only the latest is compared against the counterpart.
	BuyerPending  *float64 `json:"buyer_pending"`
	SellerPending *float64 `json:"seller_pending"`

	Deal *Deal `json:"deal" gorm:"serializer:json"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`

	// Message log, cached in memory; rows live in the messages table.
	Messages []Message `json:"messages" gorm:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleOf returns the role a participant holds in this session, or "" for a
// participant that is not a member.
func (s *Session) RoleOf(participantID string) Role {
	switch participantID {
	case s.BuyerID:
		return RoleBuyer
	case s.SellerID:
		return RoleSeller
	}
	return ""
}

// PartnerOf returns the counterpart's participant id, or "" for a
// non-member.
func (s *Session) PartnerOf(participantID string) string {
	switch participantID {
	case s.BuyerID:
		return s.SellerID
	case s.SellerID:
		return s.BuyerID
	}
	return ""
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	return s.Status == SessionSettled || s.Status == SessionAbandoned
}

// Deal is the immutable outcome of a settled session, written exactly once.
type Deal struct {
	Price       float64   `json:"price"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	DurationSec int       `json:"duration_sec"`
	Success     bool      `json:"success"`
}

// FormatDuration renders whole seconds as "45s", "2m 5s" or "1h 2m 5s".
func FormatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
