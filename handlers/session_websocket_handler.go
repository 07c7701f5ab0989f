package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ramon2115/negotiation-game2/limiter"
	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/redis"
	"github.com/ramon2115/negotiation-game2/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the wire frame in both directions: a type tag plus an opaque
// payload the type determines.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// addressed wraps an outbound frame with its recipient; an empty
// ParticipantID means everyone in the room.
type addressed struct {
	ParticipantID string
	ExceptIDs     map[string]bool
	Data          outbound
}

// Client is one live websocket connection. A participant reconnecting gets
// a fresh Client; delivery is by participant id, so notifications reach
// whichever connections are current.
type Client struct {
	ID            string
	ParticipantID string
	Name          string
	Moderator     bool
	Conn          *websocket.Conn
	Hub           *RoomHub
	Send          chan outbound
	ctx           context.Context
	cancel        context.CancelFunc
}

// RoomHub fans room traffic out to the room's connections. One goroutine
// owns the dispatch loop; handlers talk to it over channels.
type RoomHub struct {
	RoomID     string
	Clients    map[string]*Client
	mu         sync.RWMutex
	Outbox     chan *addressed
	Register   chan *Client
	Unregister chan *Client
	ctx        context.Context
	cancel     context.CancelFunc
}

type HubManager struct {
	hubs map[string]*RoomHub
	mu   sync.RWMutex
}

func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*RoomHub),
	}
}

func (m *HubManager) GetOrCreateHub(roomID string) *RoomHub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, exists := m.hubs[roomID]; exists {
		return hub
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &RoomHub{
		RoomID:     roomID,
		Clients:    make(map[string]*Client),
		Outbox:     make(chan *addressed, 256),
		Register:   make(chan *Client, 16),
		Unregister: make(chan *Client, 16),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.hubs[roomID] = hub

	go hub.run()

	return hub
}

func (hub *RoomHub) run() {
	for {
		select {
		case <-hub.ctx.Done():
			return

		case client := <-hub.Register:
			hub.mu.Lock()
			hub.Clients[client.ID] = client
			hub.mu.Unlock()

		case client := <-hub.Unregister:
			hub.mu.Lock()
			if _, ok := hub.Clients[client.ID]; ok {
				delete(hub.Clients, client.ID)
				close(client.Send)
			}
			hub.mu.Unlock()

		case msg := <-hub.Outbox:
			hub.mu.RLock()
			clients := make([]*Client, 0, len(hub.Clients))
			for _, client := range hub.Clients {
				clients = append(clients, client)
			}
			hub.mu.RUnlock()

			for _, client := range clients {
				if msg.ParticipantID != "" && client.ParticipantID != msg.ParticipantID {
					continue
				}
				if msg.ExceptIDs != nil && msg.ExceptIDs[client.ID] {
					continue
				}

				select {
				case client.Send <- msg.Data:
				default:
					log.Printf("Client %s send buffer full, disconnecting", client.ID)
					hub.Unregister <- client
				}
			}
		}
	}
}

// hasOtherConnection reports whether the participant has a live connection
// besides the given client. Presence and disconnect handling only fire when
// the last connection goes away.
func (hub *RoomHub) hasOtherConnection(client *Client) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for _, c := range hub.Clients {
		if c.ParticipantID == client.ParticipantID && c.ID != client.ID {
			return true
		}
	}
	return false
}

// Deliver routes engine notifications to their addressees.
func (hub *RoomHub) Deliver(notes []services.Notification) {
	for _, n := range notes {
		hub.Outbox <- &addressed{
			ParticipantID: n.ParticipantID,
			Data:          outbound{Type: n.Type, Payload: n.Data},
		}
	}
}

// Broadcast sends a frame to the whole room.
func (hub *RoomHub) Broadcast(data outbound, exceptIDs map[string]bool) {
	hub.Outbox <- &addressed{ExceptIDs: exceptIDs, Data: data}
}

const (
	chatLimit  = 20
	chatWindow = 10 * time.Second
)

// SessionSocketHandler owns the websocket surface: upgrade, the per-client
// pumps and the inbound frame dispatch into the engine.
type SessionSocketHandler struct {
	engine   *services.Engine
	hubs     *HubManager
	presence *redis.RedisClient
	limiter  *limiter.Manager
}

func NewSessionSocketHandler(engine *services.Engine, presence *redis.RedisClient, lim *limiter.Manager) *SessionSocketHandler {
	return &SessionSocketHandler{
		engine:   engine,
		hubs:     NewHubManager(),
		presence: presence,
		limiter:  lim,
	}
}

// DeliverToRoom routes engine notifications through the room's hub. The
// HTTP round-control endpoints use it so websocket clients still hear about
// rounds driven over HTTP.
func (h *SessionSocketHandler) DeliverToRoom(roomID string, notes []services.Notification) {
	h.hubs.GetOrCreateHub(roomID).Deliver(notes)
}

func (h *SessionSocketHandler) HandleWebSocket(c echo.Context) error {
	roomID := c.Param("roomId")
	participant := c.Get("participant").(*models.Participant)

	if _, err := h.engine.JoinRoom(c.Request().Context(), participant.ID, roomID); err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
		}
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:            uuid.New().String(),
		ParticipantID: participant.ID,
		Name:          participant.Name,
		Moderator:     participant.Moderator,
		Conn:          ws,
		Send:          make(chan outbound, 256),
		ctx:           ctx,
		cancel:        cancel,
	}

	hub := h.hubs.GetOrCreateHub(roomID)
	client.Hub = hub

	hub.Register <- client

	h.markOnline(hub, participant)
	h.sendInitFrame(client, hub)
	hub.Broadcast(outbound{
		Type: "participant_joined",
		Payload: map[string]any{
			"participant_id": participant.ID,
			"name":           participant.Name,
			"moderator":      participant.Moderator,
		},
	}, map[string]bool{client.ID: true})

	go h.writePump(client)

	h.readPump(client)

	return nil
}

func (h *SessionSocketHandler) readPump(client *Client) {
	defer func() {
		client.cancel()
		client.Hub.Unregister <- client
		client.Conn.Close()
		h.handleDeparture(client)
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var env Envelope
		err := client.Conn.ReadJSON(&env)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.handleFrame(client, &env)
	}
}

func (h *SessionSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			return

		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteJSON(message); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendInitFrame gives a fresh connection the room snapshot: round state and
// who is online.
func (h *SessionSocketHandler) sendInitFrame(client *Client, hub *RoomHub) {
	ctx := context.Background()
	payload := map[string]any{}

	room, members, err := h.engine.RoomState(ctx, hub.RoomID)
	if err == nil {
		payload["room"] = room
		online := make([]map[string]any, 0, len(members))
		for _, m := range members {
			if !m.Online {
				continue
			}
			online = append(online, map[string]any{
				"participant_id": m.ID,
				"name":           m.Name,
				"moderator":      m.Moderator,
				"paired":         m.Paired(),
			})
		}
		payload["online"] = online
	}

	client.Send <- outbound{Type: "init", Payload: payload}
}

func (h *SessionSocketHandler) handleFrame(client *Client, env *Envelope) {
	ctx := context.Background()

	switch env.Type {
	case "chat":
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Text == "" {
			return
		}
		if !h.allowChat(ctx, client) {
			h.sendError(client, "slow down: message rate limit exceeded")
			return
		}
		_, notes, err := h.engine.Chat(ctx, client.ParticipantID, p.Text)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		client.Hub.Deliver(notes)

	case "confirm":
		var p struct {
			Price float64 `json:"price"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		notes, err := h.engine.Confirm(ctx, client.ParticipantID, p.Price)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		client.Hub.Deliver(notes)

	case "round_start":
		notes, err := h.engine.StartRound(ctx, client.ParticipantID, client.Hub.RoomID)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		client.Hub.Broadcast(outbound{Type: "round_started", Payload: map[string]any{
			"pairs": len(notes) / 2,
		}}, nil)
		client.Hub.Deliver(notes)

	case "round_end":
		notes, err := h.engine.EndRound(ctx, client.ParticipantID, client.Hub.RoomID)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		client.Hub.Broadcast(outbound{Type: "round_ended"}, nil)
		client.Hub.Deliver(notes)

	case "room_reset":
		notes, err := h.engine.ResetRoom(ctx, client.ParticipantID, client.Hub.RoomID)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		client.Hub.Deliver(notes)

	default:
		h.sendError(client, "unknown frame type")
	}
}

func (h *SessionSocketHandler) allowChat(ctx context.Context, client *Client) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(ctx, "chat:"+client.ParticipantID, chatLimit, chatWindow)
	if err != nil {
		// Flood control is best-effort; an unreachable limiter never
		// blocks the negotiation.
		log.Printf("Rate limiter check failed: %v", err)
		return true
	}
	return ok
}

func (h *SessionSocketHandler) sendError(client *Client, message string) {
	select {
	case client.Send <- outbound{Type: "error", Payload: map[string]string{"message": message}}:
	default:
	}
}

// handleDeparture runs when a connection closes. Only the participant's
// last connection triggers the engine-side disconnect.
func (h *SessionSocketHandler) handleDeparture(client *Client) {
	if client.Hub.hasOtherConnection(client) {
		return
	}

	ctx := context.Background()
	notes, err := h.engine.Disconnect(ctx, client.ParticipantID)
	if err != nil {
		log.Printf("Disconnect handling failed for %s: %v", client.ParticipantID, err)
	}
	client.Hub.Deliver(notes)

	if h.presence != nil {
		if err := h.presence.RemoveOnline(ctx, client.Hub.RoomID, client.ParticipantID); err != nil {
			log.Printf("Failed to remove presence record: %v", err)
		}
	}
	client.Hub.Broadcast(outbound{
		Type: "participant_left",
		Payload: map[string]any{
			"participant_id": client.ParticipantID,
			"name":           client.Name,
		},
	}, nil)
}

func (h *SessionSocketHandler) markOnline(hub *RoomHub, p *models.Participant) {
	if h.presence == nil {
		return
	}
	if err := h.presence.AddOnline(context.Background(), hub.RoomID, p); err != nil {
		log.Printf("Failed to add presence record: %v", err)
	}
}
