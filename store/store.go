// Package store is the hybrid persistence cache: an in-memory authoritative
// working set over Participants, Rooms, Sessions and Messages, mirrored to
// a durable Persister. Creates go durable-first, reads hydrate lazily on
// miss, and updates merge into the cache synchronously while the durable
// write drains through a background queue. A failed durable write is logged
// and surfaced through the error hook but never rolls the cache back; the
// live negotiation outranks persistence atomicity.
package store

import (
	"context"
	"log"
	"sync"

	"github.com/ramon2115/negotiation-game2/models"
)

const writeQueueSize = 1024

type writeJob struct {
	op string
	fn func() error
}

type Store struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	rooms        map[string]*models.Room
	sessions     map[string]*models.Session

	db      Persister
	durable bool

	writes  chan writeJob
	pending sync.WaitGroup
	queueMu sync.RWMutex
	closed  bool

	hookMu       sync.RWMutex
	onWriteError func(op string, err error)
}

// New builds a store over the given Persister. A nil Persister enables the
// memory-only fallback: the process still runs, with durability explicitly
// disabled.
func New(db Persister) *Store {
	durable := db != nil
	if db == nil {
		log.Println("store: no durable backend, running memory-only (durability disabled)")
		db = NewMemPersister()
	}
	s := &Store{
		participants: make(map[string]*models.Participant),
		rooms:        make(map[string]*models.Room),
		sessions:     make(map[string]*models.Session),
		db:           db,
		durable:      durable,
		writes:       make(chan writeJob, writeQueueSize),
	}
	go s.writeWorker()
	return s
}

// Durable reports whether mutations reach a real durable backend.
func (s *Store) Durable() bool { return s.durable }

// OnWriteError registers a hook invoked for every failed asynchronous
// durable write, after it has been logged.
func (s *Store) OnWriteError(fn func(op string, err error)) {
	s.hookMu.Lock()
	s.onWriteError = fn
	s.hookMu.Unlock()
}

// Flush blocks until every queued durable write has been attempted.
func (s *Store) Flush() { s.pending.Wait() }

// Close drains the write queue and stops the worker. Idempotent; writes
// arriving afterwards run synchronously instead of hitting the closed
// channel.
func (s *Store) Close() {
	s.pending.Wait()
	s.queueMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.writes)
	}
	s.queueMu.Unlock()
}

func (s *Store) writeWorker() {
	for job := range s.writes {
		if err := job.fn(); err != nil {
			s.reportWriteError(job.op, err)
		}
		s.pending.Done()
	}
}

func (s *Store) reportWriteError(op string, err error) {
	log.Printf("store: durable write failed (%s): %v", op, err)
	s.hookMu.RLock()
	hook := s.onWriteError
	s.hookMu.RUnlock()
	if hook != nil {
		hook(op, err)
	}
}

func (s *Store) enqueue(op string, fn func() error) {
	s.queueMu.RLock()
	if !s.closed {
		s.pending.Add(1)
		s.writes <- writeJob{op: op, fn: fn}
		s.queueMu.RUnlock()
		return
	}
	s.queueMu.RUnlock()
	// A write racing shutdown: the worker is gone, so run it inline
	// rather than losing the row.
	if err := fn(); err != nil {
		s.reportWriteError(op, err)
	}
}

// --- participants ---

// CreateParticipant writes the durable row first, then makes the
// participant visible in the cache, so a visible id is always backed by a
// row.
func (s *Store) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if err := s.db.CreateParticipant(ctx, p); err != nil {
		return err
	}
	s.mu.Lock()
	s.participants[p.ID] = p
	s.mu.Unlock()
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	s.mu.RLock()
	p, ok := s.participants[id]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := s.db.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.participants[p.ID] = p
	s.mu.Unlock()
	return p, nil
}

// UpdateParticipant merges the given fields into the cached object now and
// into the durable row asynchronously.
func (s *Store) UpdateParticipant(ctx context.Context, id string, fields map[string]any) error {
	p, err := s.GetParticipant(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = mergeParticipant(p, fields)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.enqueue("participant.update", func() error {
		return s.db.UpdateParticipant(context.Background(), id, fields)
	})
	return nil
}

// ListRoomParticipants returns the room's member set, preferring cached
// objects over their (possibly lagging) durable rows.
func (s *Store) ListRoomParticipants(ctx context.Context, roomID string) ([]*models.Participant, error) {
	rows, err := s.db.ListParticipantsByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Participant, 0, len(rows))
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.ID] = true
		if cached, ok := s.participants[row.ID]; ok {
			out = append(out, cached)
			continue
		}
		s.participants[row.ID] = row
		out = append(out, row)
	}
	// Cached members whose room move has not reached the store yet.
	for _, p := range s.participants {
		if p.RoomID == roomID && !seen[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- rooms ---

func (s *Store) CreateRoom(ctx context.Context, r *models.Room) error {
	if err := s.db.CreateRoom(ctx, r); err != nil {
		return err
	}
	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	s.mu.RLock()
	r, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}
	r, err := s.db.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()
	return r, nil
}

func (s *Store) UpdateRoom(ctx context.Context, id string, fields map[string]any) error {
	r, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = mergeRoom(r, fields)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.enqueue("room.update", func() error {
		return s.db.UpdateRoom(context.Background(), id, fields)
	})
	return nil
}

// ListRooms returns the full catalog, preferring cached objects.
func (s *Store) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := s.db.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Room, 0, len(rows))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if cached, ok := s.rooms[row.ID]; ok {
			out = append(out, cached)
			continue
		}
		s.rooms[row.ID] = row
		out = append(out, row)
	}
	return out, nil
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.db.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return nil
}

// GetSession rehydrates a cache miss as a composite: the session row, its
// message log and both participants all land in the cache together.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	sess, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.db.MessagesBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	for _, pid := range []string{sess.BuyerID, sess.SellerID} {
		if _, err := s.GetParticipant(ctx, pid); err != nil && err != ErrNotFound {
			return nil, err
		}
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, fields map[string]any) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = mergeSession(sess, fields)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.enqueue("session.update", func() error {
		return s.db.UpdateSession(context.Background(), id, fields)
	})
	return nil
}

func (s *Store) ListRoomSessions(ctx context.Context, roomID string) ([]*models.Session, error) {
	rows, err := s.db.ListSessionsByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Session, 0, len(rows))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if cached, ok := s.sessions[row.ID]; ok {
			out = append(out, cached)
			continue
		}
		s.sessions[row.ID] = row
		out = append(out, row)
	}
	return out, nil
}

// --- messages ---

// AppendMessage mirrors an already-logged session message to the durable
// message table. The cache side lives on the session struct, appended by
// the state machine before this call.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) {
	msg := *m
	s.enqueue("message.insert", func() error {
		return s.db.InsertMessage(context.Background(), &msg)
	})
}

// MessagesBySession serves from the cached session when present, falling
// back to the durable log.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		out := make([]models.Message, len(sess.Messages))
		copy(out, sess.Messages)
		return out, nil
	}
	return s.db.MessagesBySession(ctx, sessionID)
}
