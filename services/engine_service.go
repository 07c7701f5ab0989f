package services

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ramon2115/negotiation-game2/kafka"
	"github.com/ramon2115/negotiation-game2/matchmaking"
	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/negotiation"
	"github.com/ramon2115/negotiation-game2/store"
)

var (
	ErrParticipantNotFound = errors.New("participant not registered")
	ErrRoomNotFound        = errors.New("room not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNotInSession        = errors.New("participant is not in an active session")
	ErrNotModerator        = errors.New("moderator privileges required")
)

// Notification is an outbound event addressed to a participant. The engine
// never touches connections; the transport hub maps participant ids to
// whatever is live.
type Notification struct {
	ParticipantID string `json:"-"`
	Type          string `json:"type"`
	Data          any    `json:"payload"`
}

// Outbound notification payloads, one type per event kind.
type (
	PairedPayload struct {
		SessionID   string         `json:"session_id"`
		PartnerID   string         `json:"partner_id"`
		PartnerName string         `json:"partner_name"`
		Role        models.Role    `json:"role"`
		Product     models.Product `json:"product"`
		Round       int            `json:"round"`
	}

	MessagePayload struct {
		SessionID string         `json:"session_id"`
		Message   models.Message `json:"message"`
	}

	PendingPayload struct {
		SessionID string      `json:"session_id"`
		From      models.Role `json:"from"`
		Price     float64     `json:"price"`
	}

	MismatchPayload struct {
		SessionID   string  `json:"session_id"`
		BuyerPrice  float64 `json:"buyer_price"`
		SellerPrice float64 `json:"seller_price"`
	}

	SettledPayload struct {
		SessionID string      `json:"session_id"`
		Deal      models.Deal `json:"deal"`
		Duration  string      `json:"duration"`
	}

	EndedPayload struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
)

// Publisher is the analytics stream sink; nil disables publication without
// touching the negotiation path.
type Publisher interface {
	PublishSessionEvent(ev kafka.SessionEvent) error
}

// Engine orchestrates matchmaking, the per-session state machine and the
// store. One mutex serializes every mutating operation: pair creation and
// confirmation matching must not interleave, or "one active session per
// participant" and "deal written exactly once" break.
type Engine struct {
	mu    sync.Mutex
	store *store.Store
	pub   Publisher
	rng   *rand.Rand
	now   func() time.Time
}

func NewEngine(st *store.Store, pub Publisher, seed int64) *Engine {
	return &Engine{
		store: st,
		pub:   pub,
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}
}

// LoadRooms seeds the room catalog at startup. Rooms already present in the
// durable store keep their round counter; new ones are created waiting.
func (e *Engine) LoadRooms(ctx context.Context, rooms []*models.Room) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rooms {
		existing, err := e.store.GetRoom(ctx, r.ID)
		switch {
		case err == nil:
			// Display config is authoritative from the catalog.
			if err := e.store.UpdateRoom(ctx, existing.ID, map[string]any{
				"name":        r.Name,
				"description": r.Description,
				"products":    r.Products,
			}); err != nil {
				return err
			}
		case errors.Is(err, store.ErrNotFound):
			r.Status = models.RoomStatusWaiting
			if err := e.store.CreateRoom(ctx, r); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// JoinRoom moves a participant into a room's waiting pool.
func (e *Engine) JoinRoom(ctx context.Context, participantID, roomID string) (*models.Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	room, err := e.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateParticipant(ctx, p.ID, map[string]any{
		"room_id": room.ID,
		"online":  true,
	}); err != nil {
		return nil, err
	}
	return room, nil
}

// SetOnline flips the connectivity flag without touching anything else;
// used on transport reconnect.
func (e *Engine) SetOnline(ctx context.Context, participantID string, online bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.participant(ctx, participantID)
	if err != nil {
		return err
	}
	return e.store.UpdateParticipant(ctx, p.ID, map[string]any{"online": online})
}

// StartRound advances the room's round counter, draws balanced pairs from
// the waiting pool and opens a session per pair. Odd pools leave the last
// participant waiting; pools under two produce no pairs and the round still
// advances.
func (e *Engine) StartRound(ctx context.Context, actorID, roomID string) ([]Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireModerator(ctx, actorID); err != nil {
		return nil, err
	}
	room, err := e.room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdateRoom(ctx, room.ID, map[string]any{
		"round":  room.Round + 1,
		"status": models.RoomStatusActive,
	}); err != nil {
		return nil, err
	}
	product := room.CurrentProduct()

	members, err := e.store.ListRoomParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	pool := make([]*models.Participant, 0, len(members))
	for _, m := range members {
		if m.Online && !m.Paired() && !m.Moderator {
			pool = append(pool, m)
		}
	}

	matches := matchmaking.Pair(pool, e.rng)
	now := e.now()
	var notes []Notification
	for _, m := range matches {
		sess := negotiation.NewSession(room.ID, room.Round, m.Buyer, m.Seller, product, now)
		if err := e.store.CreateSession(ctx, sess); err != nil {
			return notes, err
		}
		for _, p := range []*models.Participant{m.Buyer, m.Seller} {
			if err := e.store.UpdateParticipant(ctx, p.ID, map[string]any{
				"session_id":   sess.ID,
				"role":         p.Role,
				"role_history": p.RoleHistory,
				"partners":     p.Partners,
			}); err != nil {
				return notes, err
			}
		}
		notes = append(notes,
			pairedNote(m.Buyer, m.Seller, sess),
			pairedNote(m.Seller, m.Buyer, sess),
		)
	}
	return notes, nil
}

func pairedNote(to, partner *models.Participant, sess *models.Session) Notification {
	return Notification{
		ParticipantID: to.ID,
		Type:          "paired",
		Data: PairedPayload{
			SessionID:   sess.ID,
			PartnerID:   partner.ID,
			PartnerName: partner.Name,
			Role:        sess.RoleOf(to.ID),
			Product:     sess.Product,
			Round:       sess.Round,
		},
	}
}

// Chat feeds one inbound message through the session state machine. The
// annotated message goes to both sides; extraction ambiguity is not an
// error: the offer is simply nil and the raw text still lands in the log.
func (e *Engine) Chat(ctx context.Context, participantID, text string) (*models.Message, []Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, sess, err := e.activeSession(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := negotiation.Apply(sess, p, text, e.now())
	if err != nil {
		return nil, nil, err
	}
	e.store.AppendMessage(ctx, msg)
	if msg.Offer != nil {
		field := "buyer_offer"
		snapshot := sess.BuyerOffer
		if msg.Role == models.RoleSeller {
			field = "seller_offer"
			snapshot = sess.SellerOffer
		}
		if err := e.store.UpdateSession(ctx, sess.ID, map[string]any{field: snapshot}); err != nil {
			return nil, nil, err
		}
	}

	payload := MessagePayload{SessionID: sess.ID, Message: *msg}
	notes := []Notification{
		{ParticipantID: sess.BuyerID, Type: "message", Data: payload},
		{ParticipantID: sess.SellerID, Type: "message", Data: payload},
	}
	return msg, notes, nil
}

// Confirm records a proposed settlement price and settles the session when
// both sides' latest prices match exactly. A mismatch is not an error: the
// session stays open and both sides hear about the disagreement.
func (e *Engine) Confirm(ctx context.Context, participantID string, price float64) ([]Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, sess, err := e.activeSession(ctx, participantID)
	if err != nil {
		return nil, err
	}

	out, err := negotiation.Confirm(sess, p, price, e.now())
	if err != nil {
		return nil, err
	}

	if out.Settled {
		if err := e.store.UpdateSession(ctx, sess.ID, map[string]any{
			"status":         sess.Status,
			"buyer_pending":  sess.BuyerPending,
			"seller_pending": sess.SellerPending,
			"deal":           sess.Deal,
			"ended_at":       sess.EndedAt,
		}); err != nil {
			return nil, err
		}
		if err := e.releasePair(ctx, sess); err != nil {
			return nil, err
		}
		e.publish(kafka.SessionEvent{
			Kind:        kafka.EventSettled,
			SessionID:   sess.ID,
			RoomID:      sess.RoomID,
			Round:       sess.Round,
			Price:       out.Deal.Price,
			DurationSec: out.Deal.DurationSec,
			Success:     true,
			At:          out.Deal.ConfirmedAt,
		})
		payload := SettledPayload{
			SessionID: sess.ID,
			Deal:      *out.Deal,
			Duration:  models.FormatDuration(out.Deal.DurationSec),
		}
		return []Notification{
			{ParticipantID: sess.BuyerID, Type: "deal_settled", Data: payload},
			{ParticipantID: sess.SellerID, Type: "deal_settled", Data: payload},
		}, nil
	}

	role := sess.RoleOf(p.ID)
	pendingField := "buyer_pending"
	pendingValue := sess.BuyerPending
	if role == models.RoleSeller {
		pendingField = "seller_pending"
		pendingValue = sess.SellerPending
	}
	if err := e.store.UpdateSession(ctx, sess.ID, map[string]any{
		"status":     sess.Status,
		pendingField: pendingValue,
	}); err != nil {
		return nil, err
	}

	if out.CounterpartPending != nil {
		// Both sides confirmed different prices.
		payload := MismatchPayload{SessionID: sess.ID}
		if sess.BuyerPending != nil {
			payload.BuyerPrice = *sess.BuyerPending
		}
		if sess.SellerPending != nil {
			payload.SellerPrice = *sess.SellerPending
		}
		return []Notification{
			{ParticipantID: sess.BuyerID, Type: "price_mismatch", Data: payload},
			{ParticipantID: sess.SellerID, Type: "price_mismatch", Data: payload},
		}, nil
	}

	// First confirmation: tell the counterpart about the standing proposal.
	return []Notification{{
		ParticipantID: sess.PartnerOf(p.ID),
		Type:          "deal_pending",
		Data:          PendingPayload{SessionID: sess.ID, From: role, Price: price},
	}}, nil
}

// EndRound abandons every unsettled session in the room and returns it to
// the waiting state. Settled sessions keep their deals.
func (e *Engine) EndRound(ctx context.Context, actorID, roomID string) ([]Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireModerator(ctx, actorID); err != nil {
		return nil, err
	}
	room, err := e.room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	notes, err := e.abandonRoomSessions(ctx, room.ID, "round_ended")
	if err != nil {
		return notes, err
	}
	if err := e.store.UpdateRoom(ctx, room.ID, map[string]any{
		"status": models.RoomStatusWaiting,
	}); err != nil {
		return notes, err
	}
	return notes, nil
}

// ResetRoom abandons everything, detaches every member for re-queuing and
// rewinds the round counter.
func (e *Engine) ResetRoom(ctx context.Context, actorID, roomID string) ([]Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireModerator(ctx, actorID); err != nil {
		return nil, err
	}
	room, err := e.room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	notes, err := e.abandonRoomSessions(ctx, room.ID, "room_reset")
	if err != nil {
		return notes, err
	}
	members, err := e.store.ListRoomParticipants(ctx, room.ID)
	if err != nil {
		return notes, err
	}
	for _, m := range members {
		if err := e.store.UpdateParticipant(ctx, m.ID, map[string]any{
			"session_id": "",
			"role":       models.Role(""),
		}); err != nil {
			return notes, err
		}
		notes = append(notes, Notification{
			ParticipantID: m.ID,
			Type:          "room_reset",
			Data:          EndedPayload{Reason: "room_reset"},
		})
	}
	if err := e.store.UpdateRoom(ctx, room.ID, map[string]any{
		"round":  0,
		"status": models.RoomStatusWaiting,
	}); err != nil {
		return notes, err
	}
	return notes, nil
}

// Disconnect marks a participant offline. An in-flight extraction or
// persistence call is never cancelled; a paired partner is released back to
// waiting and the session is abandoned.
func (e *Engine) Disconnect(ctx context.Context, participantID string) ([]Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateParticipant(ctx, p.ID, map[string]any{"online": false}); err != nil {
		return nil, err
	}
	if !p.Paired() {
		return nil, nil
	}

	sess, err := e.store.GetSession(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	notes, err := e.abandonSession(ctx, sess, "partner_disconnected")
	if err != nil {
		return notes, err
	}
	// Only the partner needs the event; the disconnecting side is gone.
	filtered := notes[:0]
	for _, n := range notes {
		if n.ParticipantID != p.ID {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// RoomState is the read surface for the room-detail endpoint.
func (e *Engine) RoomState(ctx context.Context, roomID string) (*models.Room, []*models.Participant, error) {
	room, err := e.room(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	members, err := e.store.ListRoomParticipants(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	return room, members, nil
}

// RoomDeals returns the room's terminal sessions for analytics export.
func (e *Engine) RoomDeals(ctx context.Context, roomID string) ([]*models.Session, error) {
	sessions, err := e.store.ListRoomSessions(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

// SessionMessages returns a session's full message log.
func (e *Engine) SessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return e.store.MessagesBySession(ctx, sessionID)
}

// --- internals ---

func (e *Engine) participant(ctx context.Context, id string) (*models.Participant, error) {
	p, err := e.store.GetParticipant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return p, nil
}

func (e *Engine) room(ctx context.Context, id string) (*models.Room, error) {
	r, err := e.store.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return r, nil
}

func (e *Engine) requireModerator(ctx context.Context, actorID string) error {
	actor, err := e.participant(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Moderator {
		return ErrNotModerator
	}
	return nil
}

func (e *Engine) activeSession(ctx context.Context, participantID string) (*models.Participant, *models.Session, error) {
	p, err := e.participant(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}
	if !p.Paired() {
		return nil, nil, ErrNotInSession
	}
	sess, err := e.store.GetSession(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	return p, sess, nil
}

// releasePair detaches both members of a terminal session so the next
// round's pool can pick them up.
func (e *Engine) releasePair(ctx context.Context, sess *models.Session) error {
	for _, pid := range []string{sess.BuyerID, sess.SellerID} {
		if _, err := e.participant(ctx, pid); err != nil {
			continue
		}
		if err := e.store.UpdateParticipant(ctx, pid, map[string]any{
			"session_id": "",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) abandonRoomSessions(ctx context.Context, roomID, reason string) ([]Notification, error) {
	sessions, err := e.store.ListRoomSessions(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var notes []Notification
	for _, sess := range sessions {
		if sess.Terminal() {
			continue
		}
		sessionNotes, err := e.abandonSession(ctx, sess, reason)
		if err != nil {
			return notes, err
		}
		notes = append(notes, sessionNotes...)
	}
	return notes, nil
}

func (e *Engine) abandonSession(ctx context.Context, sess *models.Session, reason string) ([]Notification, error) {
	if !negotiation.Abandon(sess, e.now()) {
		return nil, nil
	}
	if err := e.store.UpdateSession(ctx, sess.ID, map[string]any{
		"status":   sess.Status,
		"ended_at": sess.EndedAt,
	}); err != nil {
		return nil, err
	}
	if err := e.releasePair(ctx, sess); err != nil {
		return nil, err
	}
	e.publish(kafka.SessionEvent{
		Kind:      kafka.EventAbandoned,
		SessionID: sess.ID,
		RoomID:    sess.RoomID,
		Round:     sess.Round,
		Success:   false,
		At:        *sess.EndedAt,
	})
	payload := EndedPayload{SessionID: sess.ID, Reason: reason}
	return []Notification{
		{ParticipantID: sess.BuyerID, Type: "session_abandoned", Data: payload},
		{ParticipantID: sess.SellerID, Type: "session_abandoned", Data: payload},
	}, nil
}

func (e *Engine) publish(ev kafka.SessionEvent) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishSessionEvent(ev); err != nil {
		// Analytics never blocks the live path.
		log.Printf("engine: session event publish failed: %v", err)
	}
}
