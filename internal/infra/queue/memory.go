package queue

import (
	"context"
	"errors"
	"sync"

	"remont-lead-bot/internal/domain"
)

// ErrQueueFull очередь в памяти переполнена.
var ErrQueueFull = errors.New("очередь уведомлений переполнена")

// ErrClosed очередь закрыта.
var ErrClosed = errors.New("очередь закрыта")

// Memory ограниченная очередь уведомлений в памяти процесса.
type Memory struct {
	ch        chan domain.Notification
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemory создаёт очередь ёмкостью size.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{ch: make(chan domain.Notification, size), done: make(chan struct{})}
}

// Publish ставит уведомление в очередь, ожидая свободного места до отмены контекста.
func (q *Memory) Publish(ctx context.Context, n domain.Notification) error {
	n = prepare(n)
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- n:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive блокирующе читает уведомление.
func (q *Memory) Receive(ctx context.Context) (domain.Notification, domain.AckFunc, error) {
	select {
	case n := <-q.ch:
		return n, func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.ch <- n:
				return nil
			default:
				return ErrQueueFull
			}
		}, nil
	case <-q.done:
		return domain.Notification{}, nil, ErrClosed
	case <-ctx.Done():
		return domain.Notification{}, nil, ctx.Err()
	}
}

// Len количество ожидающих уведомлений.
func (q *Memory) Len() int { return len(q.ch) }

// Close закрывает очередь.
func (q *Memory) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
