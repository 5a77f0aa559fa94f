package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"remont-lead-bot/internal/domain"
)

// Policy единая политика повторов для адаптеров и хранилища.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      float64
	// Retryable решает, стоит ли повторять ошибку. По умолчанию domain.IsTransient.
	Retryable func(error) bool
	// OnRetry вызывается перед ожиданием очередной попытки.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Default политика транспорта: 3 попытки, 500 мс база, до 30 с.
func Default() Policy {
	return Policy{MaxAttempts: 3, Base: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Base > 0 {
		b.InitialInterval = p.Base
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do выполняет op, повторяя временные ошибки. Ожидание FloodWait берётся из ошибки, если оно больше расчётного.
// Возвращается последняя ошибка op либо ошибка контекста.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}
	b := p.backOff()
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !retryable(err) {
			return err
		}
		delay := b.NextBackOff()
		if wait := domain.RetryAfter(err); wait > delay {
			delay = wait
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
