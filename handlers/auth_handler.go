package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ramon2115/negotiation-game2/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type registerRequest struct {
	Name string `json:"name"`
}

// Register is the survey-completion boundary: the platform has vetted the
// participant, we mint the record and the token.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
	}

	participant, token, err := h.authService.Register(c.Request().Context(), req.Name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to register participant",
		})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"participant": participant,
		"token":       token,
	})
}

type moderatorLoginRequest struct {
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

func (h *AuthHandler) ModeratorLogin(c echo.Context) error {
	var req moderatorLoginRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "name and credential are required",
		})
	}

	participant, token, err := h.authService.ModeratorLogin(c.Request().Context(), req.Name, req.Credential)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredential) {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid moderator credential",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create moderator",
		})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"participant": participant,
		"token":       token,
	})
}
