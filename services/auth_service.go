package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ramon2115/negotiation-game2/config"
	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/store"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidCredential = errors.New("invalid moderator credential")
)

type Claims struct {
	ParticipantID string `json:"participant_id"`
	Moderator     bool   `json:"moderator"`
	jwt.RegisteredClaims
}

// AuthService issues and validates the platform's two token kinds:
// participant tokens minted on survey completion, and moderator tokens
// gated by the opaque moderator credential from the config file.
type AuthService struct {
	Store *store.Store
	cfg   *config.AuthConfig
}

func NewAuthService(st *store.Store, cfg *config.AuthConfig) *AuthService {
	return &AuthService{Store: st, cfg: cfg}
}

// Register creates a participant record (the survey-completion boundary)
// and returns it with a bearer token.
func (s *AuthService) Register(ctx context.Context, name string) (*models.Participant, string, error) {
	p := &models.Participant{
		ID:     uuid.New().String(),
		Name:   name,
		Online: true,
	}
	if err := s.Store.CreateParticipant(ctx, p); err != nil {
		return nil, "", err
	}
	token, err := s.generateToken(p)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// ModeratorLogin checks the opaque credential against the configured
// bcrypt hash and mints a moderator participant.
func (s *AuthService) ModeratorLogin(ctx context.Context, name, credential string) (*models.Participant, string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.ModeratorKey), []byte(credential)); err != nil {
		return nil, "", ErrInvalidCredential
	}
	p := &models.Participant{
		ID:        uuid.New().String(),
		Name:      name,
		Online:    true,
		Moderator: true,
	}
	if err := s.Store.CreateParticipant(ctx, p); err != nil {
		return nil, "", err
	}
	token, err := s.generateToken(p)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

func (s *AuthService) generateToken(p *models.Participant) (string, error) {
	expiry := time.Duration(s.cfg.TokenExpiry) * time.Hour
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	claims := Claims{
		ParticipantID: p.ID,
		Moderator:     p.Moderator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   p.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
