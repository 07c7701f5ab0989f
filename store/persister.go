package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ramon2115/negotiation-game2/models"
)

// ErrNotFound is returned by Get* lookups for ids with no durable row.
var ErrNotFound = errors.New("record not found")

// Persister is the row-oriented durable side of the hybrid cache. Field
// names crossing this interface are the cache's own; implementations map
// them to storage columns. Messages are append-only.
type Persister interface {
	CreateParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	UpdateParticipant(ctx context.Context, id string, fields map[string]any) error
	ListParticipantsByRoom(ctx context.Context, roomID string) ([]*models.Participant, error)

	CreateRoom(ctx context.Context, r *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	UpdateRoom(ctx context.Context, id string, fields map[string]any) error
	ListRooms(ctx context.Context) ([]*models.Room, error)

	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, id string, fields map[string]any) error
	ListSessionsByRoom(ctx context.Context, roomID string) ([]*models.Session, error)

	InsertMessage(ctx context.Context, m *models.Message) error
	MessagesBySession(ctx context.Context, sessionID string) ([]models.Message, error)
}

// The merge tables below are the single source of truth for which fields an
// update may touch and how they land on the cached structs. Both the cache
// and every Persister implementation funnel partial updates through them,
// so cache and store can never drift on field naming. Unknown fields and
// wrong value types are errors; a rejected merge leaves the struct as it
// was.

// assign type-checks a field value before writing it through; the target is
// untouched on mismatch.
func assign[T any](dst *T, entity, field string, v any) error {
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("%s update: field %q has unexpected type %T", entity, field, v)
	}
	*dst = t
	return nil
}

func mergeParticipant(p *models.Participant, fields map[string]any) error {
	for k, v := range fields {
		var err error
		switch k {
		case "name":
			err = assign(&p.Name, "participant", k, v)
		case "room_id":
			err = assign(&p.RoomID, "participant", k, v)
		case "session_id":
			err = assign(&p.SessionID, "participant", k, v)
		case "role":
			err = assign(&p.Role, "participant", k, v)
		case "role_history":
			err = assign(&p.RoleHistory, "participant", k, v)
		case "partners":
			err = assign(&p.Partners, "participant", k, v)
		case "online":
			err = assign(&p.Online, "participant", k, v)
		case "moderator":
			err = assign(&p.Moderator, "participant", k, v)
		default:
			return fmt.Errorf("participant update: unknown field %q", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func mergeRoom(r *models.Room, fields map[string]any) error {
	for k, v := range fields {
		var err error
		switch k {
		case "name":
			err = assign(&r.Name, "room", k, v)
		case "description":
			err = assign(&r.Description, "room", k, v)
		case "products":
			err = assign(&r.Products, "room", k, v)
		case "round":
			err = assign(&r.Round, "room", k, v)
		case "status":
			err = assign(&r.Status, "room", k, v)
		default:
			return fmt.Errorf("room update: unknown field %q", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func mergeSession(s *models.Session, fields map[string]any) error {
	for k, v := range fields {
		var err error
		switch k {
		case "status":
			err = assign(&s.Status, "session", k, v)
		case "buyer_offer":
			err = assign(&s.BuyerOffer, "session", k, v)
		case "seller_offer":
			err = assign(&s.SellerOffer, "session", k, v)
		case "buyer_pending":
			err = assign(&s.BuyerPending, "session", k, v)
		case "seller_pending":
			err = assign(&s.SellerPending, "session", k, v)
		case "deal":
			err = assign(&s.Deal, "session", k, v)
		case "ended_at":
			err = assign(&s.EndedAt, "session", k, v)
		default:
			return fmt.Errorf("session update: unknown field %q", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
