// Package negotiation is the per-session state machine: offer tracking from
// chat and two-sided deal confirmation. It mutates session records only;
// persistence and delivery are the caller's concern.
package negotiation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ramon2115/negotiation-game2/extractor"
	"github.com/ramon2115/negotiation-game2/models"
)

var (
	ErrNotMember      = errors.New("participant is not in this session")
	ErrSessionSettled = errors.New("session already settled")
	ErrSessionEnded   = errors.New("session already ended")
)

// NewSession opens a negotiation between a matched buyer and seller. The
// session starts negotiating immediately; there is no observable idle
// phase after pairing.
func NewSession(roomID string, round int, buyer, seller *models.Participant, product models.Product, now time.Time) *models.Session {
	return &models.Session{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Round:     round,
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Product:   product,
		Status:    models.SessionNegotiating,
		StartedAt: now,
	}
}

// Apply runs one inbound chat message through the offer extractor, updates
// the per-role latest-offer snapshot and appends the annotated message to
// the session log. Chat never changes the session status.
func Apply(s *models.Session, p *models.Participant, content string, now time.Time) (*models.Message, error) {
	if s.Terminal() {
		return nil, ErrSessionEnded
	}
	role := s.RoleOf(p.ID)
	if role == "" {
		return nil, ErrNotMember
	}

	res := extractor.Extract(content, role)
	msg := &models.Message{
		ID:            uuid.New().String(),
		SessionID:     s.ID,
		ParticipantID: p.ID,
		Role:          role,
		Content:       content,
		Offer:         res.Offer,
		CreatedAt:     now,
	}
	if c := chosenCandidate(res); c != nil {
		msg.Confidence = c.Confidence
		msg.Tag = string(c.Tag)
	}

	if res.Offer != nil {
		v := *res.Offer
		if role == models.RoleBuyer {
			s.BuyerOffer = &v
		} else {
			s.SellerOffer = &v
		}
	}

	s.Messages = append(s.Messages, *msg)
	return msg, nil
}

// chosenCandidate finds the scored candidate backing the selected offer.
func chosenCandidate(res extractor.Result) *extractor.Candidate {
	if res.Offer == nil {
		return nil
	}
	var best *extractor.Candidate
	for i := range res.Candidates {
		c := &res.Candidates[i]
		if c.Value != *res.Offer {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// Outcome reports what a confirmation did to the session.
type Outcome struct {
	// Settled is true when both pending prices matched and the deal was
	// written.
	Settled bool
	Deal    *models.Deal
	// CounterpartPending is the other side's standing proposal when the
	// session did not settle; nil if the counterpart has not confirmed.
	CounterpartPending *float64
}

// Confirm records the caller's proposed settlement price. Repeated
// confirmations replace the pending value; only the latest is compared.
// Exact numeric equality with the counterpart's pending price settles the
// session and writes the deal exactly once.
func Confirm(s *models.Session, p *models.Participant, price float64, now time.Time) (Outcome, error) {
	if s.Status == models.SessionSettled {
		return Outcome{}, ErrSessionSettled
	}
	if s.Terminal() {
		return Outcome{}, ErrSessionEnded
	}
	role := s.RoleOf(p.ID)
	if role == "" {
		return Outcome{}, ErrNotMember
	}

	var mine, theirs **float64
	if role == models.RoleBuyer {
		mine, theirs = &s.BuyerPending, &s.SellerPending
	} else {
		mine, theirs = &s.SellerPending, &s.BuyerPending
	}
	v := price
	*mine = &v

	if *theirs != nil && **theirs == price {
		dur := int(now.Sub(s.StartedAt).Seconds())
		if dur < 0 {
			dur = 0
		}
		s.Deal = &models.Deal{
			Price:       price,
			ConfirmedAt: now,
			DurationSec: dur,
			Success:     true,
		}
		s.Status = models.SessionSettled
		s.EndedAt = &now
		return Outcome{Settled: true, Deal: s.Deal}, nil
	}

	s.Status = models.SessionDealPending
	return Outcome{CounterpartPending: *theirs}, nil
}

// Abandon terminates a session without a deal: moderator round-end, room
// reset or a participant disconnect. Reports false if the session already
// reached a terminal state.
func Abandon(s *models.Session, now time.Time) bool {
	if s.Terminal() {
		return false
	}
	s.Status = models.SessionAbandoned
	s.EndedAt = &now
	return true
}
