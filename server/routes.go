package server

import (
	"github.com/labstack/echo/v4"
)

func (s *Server) SetupRoutes(authMiddleware, moderatorMiddleware, rateLimit echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api/v1")

	// Auth routes (unprotected, rate limited when redis is available)
	auth := api.Group("/auth")
	if rateLimit != nil {
		auth.Use(rateLimit)
	}
	{
		auth.POST("/register", s.AuthHandler.Register)
		auth.POST("/moderator", s.AuthHandler.ModeratorLogin)
	}

	protected := api.Group("")
	protected.Use(authMiddleware)
	{
		rooms := protected.Group("/rooms")
		{
			rooms.GET("", s.RoomHandler.ListRooms)
			rooms.GET("/:roomId", s.RoomHandler.GetRoom)
			rooms.GET("/:roomId/online", s.RoomHandler.GetOnlineParticipants)
			rooms.GET("/:roomId/deals", s.RoomHandler.GetDeals)
		}

		protected.GET("/sessions/:sessionId/messages", s.RoomHandler.GetSessionMessages)

		// The live negotiation surface.
		protected.GET("/rooms/:roomId/ws", s.SocketHandler.HandleWebSocket)

		// Moderator round control also works over HTTP, mirroring the
		// websocket frames, for scripted experiment runs.
		moderator := protected.Group("/moderator")
		moderator.Use(moderatorMiddleware)
		{
			moderator.POST("/rooms/:roomId/rounds/start", s.startRound)
			moderator.POST("/rooms/:roomId/rounds/end", s.endRound)
			moderator.POST("/rooms/:roomId/reset", s.resetRoom)
		}
	}
}
