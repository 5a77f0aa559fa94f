package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// Redis реализует очередь уведомлений на базе Redis lists.
// Полученные сообщения лежат в списке <key>:processing до подтверждения.
type Redis struct {
	client     *redis.Client
	key        string
	processing string
	timeout    time.Duration
}

// NewRedis создаёт очередь по указанному ключу.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key, processing: key + ":processing", timeout: time.Second}
}

// Publish публикует уведомление.
func (q *Redis) Publish(ctx context.Context, n domain.Notification) error {
	payload, err := encode(n)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return domain.Transient("redis: push notification", err)
	}
	return nil
}

// Receive блокирующе читает уведомление.
func (q *Redis) Receive(ctx context.Context) (domain.Notification, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Notification{}, nil, err
		}
		res, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.timeout).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.Notification{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.Notification{}, nil, domain.Transient("redis: pop notification", err)
		}
		n, err := decode([]byte(res))
		if err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, res).Err()
			return domain.Notification{}, nil, err
		}
		return n, q.ack(res), nil
	}
}

func (q *Redis) ack(payload string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			if !success {
				pipe.RPush(ctx, q.key, payload)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis ack: %w", err)
		}
		return nil
	}
}

// Recover возвращает в очередь сообщения, не подтверждённые до перезапуска.
func (q *Redis) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Close закрывает соединение.
func (q *Redis) Close() error {
	return q.client.Close()
}
