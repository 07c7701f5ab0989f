package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramon2115/negotiation-game2/config"
	"github.com/ramon2115/negotiation-game2/models"
)

const presenceTTL = 24 * time.Hour

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient connects and ping-tests a client from the config block.
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}

	return &RedisClient{Client: client}, nil
}

// Close closes the underlying connection pool.
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// PresenceInfo is the per-participant record kept in a room's online hash.
type PresenceInfo struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Moderator     bool   `json:"moderator"`
	Paired        bool   `json:"paired"`
}

func presenceKey(roomID string) string {
	return fmt.Sprintf("negotiation:room:%s:online", roomID)
}

// AddOnline upserts a participant into the room's online hash. The key
// expires after a day so stale rooms clean themselves up.
func (r *RedisClient) AddOnline(ctx context.Context, roomID string, p *models.Participant) error {
	info := PresenceInfo{
		ParticipantID: p.ID,
		Name:          p.Name,
		Moderator:     p.Moderator,
		Paired:        p.Paired(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	key := presenceKey(roomID)
	if err := r.Client.HSet(ctx, key, p.ID, data).Err(); err != nil {
		return err
	}
	return r.Client.Expire(ctx, key, presenceTTL).Err()
}

// RemoveOnline drops a participant from the room's online hash.
func (r *RedisClient) RemoveOnline(ctx context.Context, roomID, participantID string) error {
	return r.Client.HDel(ctx, presenceKey(roomID), participantID).Err()
}

// OnlineParticipants returns the room's current presence records.
func (r *RedisClient) OnlineParticipants(ctx context.Context, roomID string) ([]PresenceInfo, error) {
	result, err := r.Client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online participants for room %s: %w", roomID, err)
	}

	infos := make([]PresenceInfo, 0, len(result))
	for _, data := range result {
		var info PresenceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			log.Printf("Failed to unmarshal presence record: %v", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
