// Package presence tracks which users are connected to a channel, as a Redis
// set per channel.
package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	redis redis.Cmdable
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewStore(rdb redis.Cmdable) *Store {
	return &Store{redis: rdb}
}

// Key is the Redis set holding the members of channelID.
func Key(channelID string) string {
	return "channel:" + channelID + ":users"
}

func (s *Store) Join(ctx context.Context, channelID, userID string) error {
	return s.redis.SAdd(ctx, Key(channelID), userID).Err()
}

func (s *Store) Leave(ctx context.Context, channelID, userID string) error {
	return s.redis.SRem(ctx, Key(channelID), userID).Err()
}

func (s *Store) Members(ctx context.Context, channelID string) ([]string, error) {
	return s.redis.SMembers(ctx, Key(channelID)).Result()
}
