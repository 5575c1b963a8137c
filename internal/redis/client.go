package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/p2p-call-signaling/config"
	"github.com/mossy-p/p2p-call-signaling/internal/models"
	"github.com/mossy-p/p2p-call-signaling/internal/store"
	"github.com/redis/go-redis/v9"
)

const keyTTL = 24 * time.Hour

// Store mirrors room metadata and membership into Redis.
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

// Connect initializes the Redis client and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

func roomKey(roomID string) string  { return "room:" + roomID }
func peersKey(roomID string) string { return "room:" + roomID + ":peers" }

// SaveRoom stores room metadata with a TTL.
func (s *Store) SaveRoom(ctx context.Context, room models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, roomKey(room.ID), data, keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	return nil
}

// GetRoom loads room metadata.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	return &room, nil
}

// DeleteRoom removes metadata and the peer set.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomKey(roomID), peersKey(roomID)).Err()
}

// AddPeer adds userID to the room's peer set and refreshes its TTL.
func (s *Store) AddPeer(ctx context.Context, roomID, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, peersKey(roomID), userID)
	pipe.Expire(ctx, peersKey(roomID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemovePeer removes userID from the room's peer set.
func (s *Store) RemovePeer(ctx context.Context, roomID, userID string) error {
	return s.client.SRem(ctx, peersKey(roomID), userID).Err()
}

// Peers lists the mirrored members of a room.
func (s *Store) Peers(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, peersKey(roomID)).Result()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
