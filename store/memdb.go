package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ramon2115/negotiation-game2/models"
)

// MemPersister keeps durable rows in process memory. It backs the store
// when the database is unreachable at startup (durability disabled) and is
// the swap-in fake for tests. Rows are deep-copied on the way in and out so
// it behaves like a real store rather than sharing cache pointers.
type MemPersister struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	rooms        map[string]*models.Room
	sessions     map[string]*models.Session
	messages     map[string][]models.Message // keyed by session id
}

func NewMemPersister() *MemPersister {
	return &MemPersister{
		participants: make(map[string]*models.Participant),
		rooms:        make(map[string]*models.Room),
		sessions:     make(map[string]*models.Session),
		messages:     make(map[string][]models.Message),
	}
}

func (m *MemPersister) CreateParticipant(_ context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.ID] = copyParticipant(p)
	return nil
}

func (m *MemPersister) GetParticipant(_ context.Context, id string) (*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyParticipant(p), nil
}

func (m *MemPersister) UpdateParticipant(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return ErrNotFound
	}
	if err := mergeParticipant(p, fields); err != nil {
		return err
	}
	// Detach from any slices the caller still holds.
	m.participants[id] = copyParticipant(p)
	return nil
}

func (m *MemPersister) ListParticipantsByRoom(_ context.Context, roomID string) ([]*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Participant
	for _, p := range m.participants {
		if p.RoomID == roomID {
			out = append(out, copyParticipant(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemPersister) CreateRoom(_ context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = copyRoom(r)
	return nil
}

func (m *MemPersister) GetRoom(_ context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoom(r), nil
}

func (m *MemPersister) UpdateRoom(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	if err := mergeRoom(r, fields); err != nil {
		return err
	}
	m.rooms[id] = copyRoom(r)
	return nil
}

func (m *MemPersister) ListRooms(_ context.Context) ([]*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, copyRoom(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemPersister) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemPersister) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemPersister) UpdateSession(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if err := mergeSession(s, fields); err != nil {
		return err
	}
	m.sessions[id] = copySession(s)
	return nil
}

func (m *MemPersister) ListSessionsByRoom(_ context.Context, roomID string) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.RoomID == roomID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemPersister) InsertMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *MemPersister) MessagesBySession(_ context.Context, sessionID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Message, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	return out, nil
}

func copyParticipant(p *models.Participant) *models.Participant {
	cp := *p
	cp.RoleHistory = append([]models.Role(nil), p.RoleHistory...)
	cp.Partners = append([]string(nil), p.Partners...)
	return &cp
}

func copyRoom(r *models.Room) *models.Room {
	cp := *r
	cp.Products = append([]models.Product(nil), r.Products...)
	return &cp
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	cp.BuyerOffer = copyFloat(s.BuyerOffer)
	cp.SellerOffer = copyFloat(s.SellerOffer)
	cp.BuyerPending = copyFloat(s.BuyerPending)
	cp.SellerPending = copyFloat(s.SellerPending)
	if s.Deal != nil {
		deal := *s.Deal
		cp.Deal = &deal
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	cp.Messages = nil // message rows live in their own table
	return &cp
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
