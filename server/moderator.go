package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/services"
)

// HTTP round control. Each endpoint mirrors a moderator websocket frame so
// scripted experiment runs can drive rounds with curl.

func (s *Server) startRound(c echo.Context) error {
	actor := c.Get("participant").(*models.Participant)
	roomID := c.Param("roomId")

	notes, err := s.Engine.StartRound(c.Request().Context(), actor.ID, roomID)
	if err != nil {
		return moderatorError(c, err)
	}
	s.SocketHandler.DeliverToRoom(roomID, notes)
	return c.JSON(http.StatusOK, map[string]any{
		"room_id": roomID,
		"pairs":   len(notes) / 2,
	})
}

func (s *Server) endRound(c echo.Context) error {
	actor := c.Get("participant").(*models.Participant)
	roomID := c.Param("roomId")

	notes, err := s.Engine.EndRound(c.Request().Context(), actor.ID, roomID)
	if err != nil {
		return moderatorError(c, err)
	}
	s.SocketHandler.DeliverToRoom(roomID, notes)
	return c.JSON(http.StatusOK, map[string]any{
		"room_id":   roomID,
		"abandoned": len(notes) / 2,
	})
}

func (s *Server) resetRoom(c echo.Context) error {
	actor := c.Get("participant").(*models.Participant)
	roomID := c.Param("roomId")

	notes, err := s.Engine.ResetRoom(c.Request().Context(), actor.ID, roomID)
	if err != nil {
		return moderatorError(c, err)
	}
	s.SocketHandler.DeliverToRoom(roomID, notes)
	return c.JSON(http.StatusOK, map[string]string{"room_id": roomID, "status": "reset"})
}

func moderatorError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
	case errors.Is(err, services.ErrNotModerator):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "moderator privileges required"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
