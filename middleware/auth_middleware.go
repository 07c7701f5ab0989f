package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/services"
)

// AuthMiddleware resolves the bearer token to a participant and stashes it
// in the echo context. Browsers cannot set headers on websocket dials, so a
// token query parameter is accepted as a fallback.
func AuthMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			var tokenString string
			if authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error": "invalid authorization header",
					})
				}
				tokenString = parts[1]
			} else {
				tokenString = c.QueryParam("token")
				if tokenString == "" {
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error": "missing authorization token",
					})
				}
				tokenString = strings.TrimPrefix(tokenString, "Bearer ")
			}

			claims, err := authService.ValidateToken(tokenString)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid token",
				})
			}
			participant, err := authService.Store.GetParticipant(c.Request().Context(), claims.ParticipantID)
			if err != nil {
				return c.JSON(http.StatusNotFound, map[string]string{
					"error": "participant not found",
				})
			}

			c.Set("participant", participant)
			return next(c)
		}
	}
}

// ModeratorOnly guards the round-control endpoints. It must run after
// AuthMiddleware.
func ModeratorOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := c.Get("participant").(*models.Participant)
			if !ok || !p.Moderator {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "moderator privileges required",
				})
			}
			return next(c)
		}
	}
}
