package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter ожидает разрешения на вызов.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewBucket создаёт token bucket на rps запросов в секунду. rps <= 0 отключает ограничение.
func NewBucket(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// NewFloor пропускает не более одного вызова за interval. Лишние вызовы ждут своей очереди.
func NewFloor(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Chain ожидает все лимитеры по очереди.
type Chain []Limiter

// Wait реализует Limiter.
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
