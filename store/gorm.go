package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ramon2115/negotiation-game2/models"
)

// GormPersister is the postgres-backed Persister. Partial updates go
// through the shared merge tables inside a read-modify-write transaction so
// the durable row and the cached object always agree field for field.
type GormPersister struct {
	db *gorm.DB
}

func NewGormPersister(db *gorm.DB) *GormPersister {
	return &GormPersister{db: db}
}

func (g *GormPersister) CreateParticipant(ctx context.Context, p *models.Participant) error {
	return g.db.WithContext(ctx).Create(p).Error
}

func (g *GormPersister) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	var p models.Participant
	if err := g.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (g *GormPersister) UpdateParticipant(ctx context.Context, id string, fields map[string]any) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Participant
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := mergeParticipant(&p, fields); err != nil {
			return err
		}
		return tx.Save(&p).Error
	})
}

func (g *GormPersister) ListParticipantsByRoom(ctx context.Context, roomID string) ([]*models.Participant, error) {
	var out []*models.Participant
	err := g.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id").Find(&out).Error
	return out, err
}

func (g *GormPersister) CreateRoom(ctx context.Context, r *models.Room) error {
	return g.db.WithContext(ctx).Create(r).Error
}

func (g *GormPersister) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var r models.Room
	if err := g.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (g *GormPersister) UpdateRoom(ctx context.Context, id string, fields map[string]any) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.Room
		if err := tx.First(&r, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := mergeRoom(&r, fields); err != nil {
			return err
		}
		return tx.Save(&r).Error
	})
}

func (g *GormPersister) ListRooms(ctx context.Context) ([]*models.Room, error) {
	var out []*models.Room
	err := g.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (g *GormPersister) CreateSession(ctx context.Context, s *models.Session) error {
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *GormPersister) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	if err := g.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (g *GormPersister) UpdateSession(ctx context.Context, id string, fields map[string]any) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.Session
		if err := tx.First(&s, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := mergeSession(&s, fields); err != nil {
			return err
		}
		return tx.Save(&s).Error
	})
}

func (g *GormPersister) ListSessionsByRoom(ctx context.Context, roomID string) ([]*models.Session, error) {
	var out []*models.Session
	err := g.db.WithContext(ctx).Where("room_id = ?", roomID).Order("started_at").Find(&out).Error
	return out, err
}

func (g *GormPersister) InsertMessage(ctx context.Context, m *models.Message) error {
	return g.db.WithContext(ctx).Create(m).Error
}

func (g *GormPersister) MessagesBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var out []models.Message
	err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
