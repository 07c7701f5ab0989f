package kafka

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const (
	EventSettled   = "settled"
	EventAbandoned = "abandoned"
)

// SessionEvent is the analytics record published when a negotiation session
// reaches a terminal state. It carries everything the reporting consumers
// need (price, duration, success) so they never touch the core.
type SessionEvent struct {
	Kind        string    `json:"kind"`
	SessionID   string    `json:"session_id"`
	RoomID      string    `json:"room_id"`
	Round       int       `json:"round"`
	Price       float64   `json:"price,omitempty"`
	DurationSec int       `json:"duration_sec,omitempty"`
	Success     bool      `json:"success"`
	At          time.Time `json:"at"`
}

// EventInterceptor stamps outgoing events with their origin service.
type EventInterceptor struct{}

func NewEventInterceptor() *EventInterceptor {
	return &EventInterceptor{}
}

func (i *EventInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("origin"),
		Value: []byte("negotiation-engine"),
	})
}

// RoomStats is a running tally per room, maintained by the consumer side.
type RoomStats struct {
	Settled     int     `json:"settled"`
	Abandoned   int     `json:"abandoned"`
	TotalPrice  float64 `json:"total_price"`
	TotalSecs   int     `json:"total_secs"`
	LastEventAt string  `json:"last_event_at"`
}

// StatsHandler consumes session events and keeps per-room aggregates. It is
// deliberately read-only with respect to the engine: a canned-reporting
// collaborator fed from the stream.
type StatsHandler struct {
	mu    sync.Mutex
	rooms map[string]*RoomStats
}

func NewStatsHandler() *StatsHandler {
	return &StatsHandler{rooms: make(map[string]*RoomStats)}
}

func (h *StatsHandler) Handle(_ context.Context, message *sarama.ConsumerMessage) error {
	var ev SessionEvent
	if err := json.Unmarshal(message.Value, &ev); err != nil {
		log.Printf("Failed to unmarshal session event: %v", err)
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	stats, ok := h.rooms[ev.RoomID]
	if !ok {
		stats = &RoomStats{}
		h.rooms[ev.RoomID] = stats
	}
	switch ev.Kind {
	case EventSettled:
		stats.Settled++
		stats.TotalPrice += ev.Price
		stats.TotalSecs += ev.DurationSec
	case EventAbandoned:
		stats.Abandoned++
	}
	stats.LastEventAt = ev.At.UTC().Format(time.RFC3339)
	return nil
}

// Stats returns a snapshot of the aggregates for one room.
func (h *StatsHandler) Stats(roomID string) RoomStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.rooms[roomID]; ok {
		return *s
	}
	return RoomStats{}
}
