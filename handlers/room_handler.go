package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ramon2115/negotiation-game2/kafka"
	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/redis"
	"github.com/ramon2115/negotiation-game2/services"
	"github.com/ramon2115/negotiation-game2/store"
)

// RoomHandler is the read-mostly HTTP surface: catalog, room state, deal
// history and message logs. The live path goes over the websocket.
type RoomHandler struct {
	engine   *services.Engine
	store    *store.Store
	presence *redis.RedisClient
	stats    *kafka.StatsHandler
}

func NewRoomHandler(engine *services.Engine, st *store.Store, presence *redis.RedisClient, stats *kafka.StatsHandler) *RoomHandler {
	return &RoomHandler{engine: engine, store: st, presence: presence, stats: stats}
}

func (h *RoomHandler) ListRooms(c echo.Context) error {
	rooms, err := h.store.ListRooms(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list rooms",
		})
	}
	return c.JSON(http.StatusOK, rooms)
}

func (h *RoomHandler) GetRoom(c echo.Context) error {
	roomID := c.Param("roomId")
	room, members, err := h.engine.RoomState(c.Request().Context(), roomID)
	if err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to load room",
		})
	}

	waiting, paired := 0, 0
	for _, m := range members {
		if !m.Online || m.Moderator {
			continue
		}
		if m.Paired() {
			paired++
		} else {
			waiting++
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"room":         room,
		"participants": members,
		"waiting":      waiting,
		"paired":       paired,
	})
}

// GetOnlineParticipants serves the presence list from redis; it falls back
// to the store's connectivity flags when redis is not configured.
func (h *RoomHandler) GetOnlineParticipants(c echo.Context) error {
	roomID := c.Param("roomId")
	ctx := c.Request().Context()

	if h.presence != nil {
		infos, err := h.presence.OnlineParticipants(ctx, roomID)
		if err == nil {
			return c.JSON(http.StatusOK, map[string]any{
				"room_id": roomID,
				"count":   len(infos),
				"online":  infos,
			})
		}
	}

	_, members, err := h.engine.RoomState(ctx, roomID)
	if err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch online participants",
		})
	}
	infos := make([]redis.PresenceInfo, 0, len(members))
	for _, m := range members {
		if !m.Online {
			continue
		}
		infos = append(infos, redis.PresenceInfo{
			ParticipantID: m.ID,
			Name:          m.Name,
			Moderator:     m.Moderator,
			Paired:        m.Paired(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"room_id": roomID,
		"count":   len(infos),
		"online":  infos,
	})
}

// GetDeals exports a room's terminal sessions with rendered durations,
// plus the stream-side aggregates when the consumer is running.
func (h *RoomHandler) GetDeals(c echo.Context) error {
	roomID := c.Param("roomId")
	sessions, err := h.engine.RoomDeals(c.Request().Context(), roomID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch deals",
		})
	}

	type dealView struct {
		SessionID string       `json:"session_id"`
		Round     int          `json:"round"`
		Product   string       `json:"product"`
		Status    string       `json:"status"`
		Deal      *models.Deal `json:"deal,omitempty"`
		Duration  string       `json:"duration,omitempty"`
	}
	views := make([]dealView, 0, len(sessions))
	for _, s := range sessions {
		v := dealView{
			SessionID: s.ID,
			Round:     s.Round,
			Product:   s.Product.Name,
			Status:    string(s.Status),
			Deal:      s.Deal,
		}
		if s.Deal != nil {
			v.Duration = models.FormatDuration(s.Deal.DurationSec)
		}
		views = append(views, v)
	}

	resp := map[string]any{
		"room_id": roomID,
		"deals":   views,
	}
	if h.stats != nil {
		resp["stats"] = h.stats.Stats(roomID)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSessionMessages returns a session's annotated message log. Only the
// session's members and moderators may read it.
func (h *RoomHandler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("sessionId")
	actor := c.Get("participant").(*models.Participant)

	sess, err := h.store.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to load session",
		})
	}
	if !actor.Moderator && sess.RoleOf(actor.ID) == "" {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "not a member of this session",
		})
	}

	messages, err := h.engine.SessionMessages(c.Request().Context(), sessionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch messages",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}
