package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ramon2115/negotiation-game2/models"
)

var ctx = context.Background()

func seedEntities(t *testing.T, s *Store) (*models.Participant, *models.Participant, *models.Room, *models.Session) {
	t.Helper()
	buyer := &models.Participant{ID: "buyer-1", Name: "Ada", RoomID: "room-1", Online: true}
	seller := &models.Participant{ID: "seller-1", Name: "Ben", RoomID: "room-1", Online: true}
	room := &models.Room{
		ID: "room-1", Name: "Lab A", Status: models.RoomStatusWaiting,
		Products: []models.Product{{Name: "used bike", ListPrice: 300}},
	}
	sess := &models.Session{
		ID: "sess-1", RoomID: "room-1", Round: 1,
		BuyerID: buyer.ID, SellerID: seller.ID,
		Product:   room.Products[0],
		Status:    models.SessionNegotiating,
		StartedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, err := range []error{
		s.CreateRoom(ctx, room),
		s.CreateParticipant(ctx, buyer),
		s.CreateParticipant(ctx, seller),
		s.CreateSession(ctx, sess),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	return buyer, seller, room, sess
}

func TestRestartReloadsCommittedState(t *testing.T) {
	db := NewMemPersister()
	s1 := New(db)
	buyer, _, _, sess := seedEntities(t, s1)

	offer := 450.0
	pending := 450.0
	ended := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	deal := &models.Deal{Price: 450, ConfirmedAt: ended, DurationSec: 300, Success: true}

	if err := s1.UpdateParticipant(ctx, buyer.ID, map[string]any{
		"role":         models.RoleBuyer,
		"role_history": []models.Role{models.RoleBuyer},
		"partners":     []string{"seller-1"},
		"session_id":   sess.ID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s1.UpdateRoom(ctx, "room-1", map[string]any{
		"round":  1,
		"status": models.RoomStatusActive,
	}); err != nil {
		t.Fatal(err)
	}
	msg := &models.Message{
		ID: "msg-1", SessionID: sess.ID, ParticipantID: buyer.ID,
		Role: models.RoleBuyer, Content: "I can offer $450",
		Offer: &offer, Confidence: 1, Tag: "offer_phrase",
		CreatedAt: time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC),
	}
	sess.Messages = append(sess.Messages, *msg)
	s1.AppendMessage(ctx, msg)
	if err := s1.UpdateSession(ctx, sess.ID, map[string]any{
		"status":         models.SessionSettled,
		"buyer_offer":    &offer,
		"buyer_pending":  &pending,
		"seller_pending": &pending,
		"deal":           deal,
		"ended_at":       &ended,
	}); err != nil {
		t.Fatal(err)
	}
	s1.Flush()

	// Simulated process restart: fresh cache, same durable rows.
	s2 := New(db)

	p2, err := s2.GetParticipant(ctx, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p2.Role != models.RoleBuyer || p2.SessionID != sess.ID ||
		!reflect.DeepEqual(p2.RoleHistory, []models.Role{models.RoleBuyer}) ||
		!reflect.DeepEqual(p2.Partners, []string{"seller-1"}) {
		t.Errorf("participant did not survive restart: %+v", p2)
	}

	r2, err := s2.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if r2.Round != 1 || r2.Status != models.RoomStatusActive {
		t.Errorf("room did not survive restart: %+v", r2)
	}

	sess2, err := s2.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess2.Status != models.SessionSettled {
		t.Errorf("status = %q, want settled", sess2.Status)
	}
	if sess2.BuyerOffer == nil || *sess2.BuyerOffer != 450 {
		t.Errorf("buyer offer = %v, want 450", sess2.BuyerOffer)
	}
	if !reflect.DeepEqual(sess2.Deal, deal) {
		t.Errorf("deal = %+v, want %+v", sess2.Deal, deal)
	}
	if sess2.EndedAt == nil || !sess2.EndedAt.Equal(ended) {
		t.Errorf("ended_at = %v, want %v", sess2.EndedAt, ended)
	}
	if len(sess2.Messages) != 1 || sess2.Messages[0].Content != "I can offer $450" {
		t.Errorf("message log did not rehydrate: %+v", sess2.Messages)
	}
}

func TestGetSessionRehydratesParticipants(t *testing.T) {
	db := NewMemPersister()
	s1 := New(db)
	seedEntities(t, s1)
	s1.Flush()

	s2 := New(db)
	sess, err := s2.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	// Both sides of the pair must have landed in the cache alongside the
	// session.
	s2.mu.RLock()
	_, buyerCached := s2.participants[sess.BuyerID]
	_, sellerCached := s2.participants[sess.SellerID]
	s2.mu.RUnlock()
	if !buyerCached || !sellerCached {
		t.Error("session rehydration did not pull in its participants")
	}
}

func TestCacheHitReturnsSameObject(t *testing.T) {
	s := New(NewMemPersister())
	buyer, _, _, _ := seedEntities(t, s)

	again, err := s.GetParticipant(ctx, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again != buyer {
		t.Error("cache hit returned a different object than the one created")
	}
}

func TestMemoryOnlyFallback(t *testing.T) {
	s := New(nil)
	if s.Durable() {
		t.Fatal("nil persister should disable durability")
	}
	p := &models.Participant{ID: "p1", Name: "Ada"}
	if err := s.CreateParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetParticipant(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ada" {
		t.Errorf("name = %q", got.Name)
	}
}

type failingPersister struct {
	*MemPersister
	fail bool
}

func (f *failingPersister) UpdateParticipant(ctx context.Context, id string, fields map[string]any) error {
	if f.fail {
		return errors.New("connection reset")
	}
	return f.MemPersister.UpdateParticipant(ctx, id, fields)
}

func TestWriteFailureSurfacedNotRolledBack(t *testing.T) {
	db := &failingPersister{MemPersister: NewMemPersister()}
	s := New(db)
	buyer, _, _, _ := seedEntities(t, s)

	errs := make(chan string, 1)
	s.OnWriteError(func(op string, err error) { errs <- op })

	db.fail = true
	if err := s.UpdateParticipant(ctx, buyer.ID, map[string]any{"online": false}); err != nil {
		t.Fatal(err)
	}
	s.Flush()

	select {
	case op := <-errs:
		if op != "participant.update" {
			t.Errorf("op = %q, want participant.update", op)
		}
	case <-time.After(time.Second):
		t.Fatal("write failure never surfaced")
	}

	// Cache keeps the mutation: the live session outranks the store.
	got, _ := s.GetParticipant(ctx, buyer.ID)
	if got.Online {
		t.Error("cache rolled back after durable write failure")
	}
	// The durable row still has the old value, accepted divergence.
	row, err := db.GetParticipant(ctx, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !row.Online {
		t.Error("durable row changed despite failed write")
	}
}

func TestUpdateUnknownFieldRejected(t *testing.T) {
	s := New(NewMemPersister())
	buyer, _, _, _ := seedEntities(t, s)
	if err := s.UpdateParticipant(ctx, buyer.ID, map[string]any{"elo": 1200}); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestListRoomParticipants(t *testing.T) {
	db := NewMemPersister()
	s := New(db)
	seedEntities(t, s)
	s.Flush()

	got, err := s.ListRoomParticipants(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("members = %d, want 2", len(got))
	}
}

func TestUpdateAfterCloseRunsInline(t *testing.T) {
	db := NewMemPersister()
	s := New(db)
	buyer, _, _, _ := seedEntities(t, s)
	s.Close()

	// The worker is gone; a write racing shutdown must still land durably
	// instead of panicking on the closed queue.
	if err := s.UpdateParticipant(ctx, buyer.ID, map[string]any{"online": false}); err != nil {
		t.Fatal(err)
	}

	row, err := db.GetParticipant(ctx, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Online {
		t.Error("durable row missed the post-close update")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := New(NewMemPersister())
	s.Close()
	s.Close()
}

func TestUpdateWrongTypeRejected(t *testing.T) {
	s := New(NewMemPersister())
	buyer, _, _, sess := seedEntities(t, s)

	if err := s.UpdateParticipant(ctx, buyer.ID, map[string]any{"online": "yes"}); err == nil {
		t.Error("string for a bool field accepted")
	}
	if err := s.UpdateSession(ctx, sess.ID, map[string]any{"buyer_offer": 450.0}); err == nil {
		t.Error("bare float for a *float64 field accepted")
	}
	if err := s.UpdateRoom(ctx, "room-1", map[string]any{"round": "2"}); err == nil {
		t.Error("string for an int field accepted")
	}

	// The cache keeps its old values after a rejected merge.
	got, err := s.GetParticipant(ctx, buyer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Online {
		t.Error("rejected update mutated the cached participant")
	}
}
