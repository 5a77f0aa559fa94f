package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSeenSet хранит адреса уже обработанных сообщений в Redis set.
type RedisSeenSet struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSeenSet создаёт набор; ttl обновляется при каждой записи.
func NewRedisSeenSet(client *redis.Client, key string, ttl time.Duration) *RedisSeenSet {
	return &RedisSeenSet{client: client, key: key, ttl: ttl}
}

// Seen сообщает, встречался ли адрес.
func (s *RedisSeenSet) Seen(ctx context.Context, url string) (bool, error) {
	return s.client.SIsMember(ctx, s.key, url).Result()
}

// Add отмечает адреса как просмотренные.
func (s *RedisSeenSet) Add(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	members := make([]any, 0, len(urls))
	for _, u := range urls {
		members = append(members, u)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.key, members...)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	return err
}
