// Package router раскладывает входящие события по почтовым ящикам пользователей:
// события одного пользователя обрабатываются строго по очереди, разных пользователей параллельно.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// ErrClosed роутер больше не принимает события.
var ErrClosed = errors.New("роутер остановлен")

// Handler обрабатывает одно событие.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
}

// HandlerFunc адаптер функции к Handler.
type HandlerFunc func(ctx context.Context, ev domain.InboundEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev domain.InboundEvent) error { return f(ctx, ev) }

type mailbox struct {
	events  []domain.InboundEvent
	running bool
}

// Router очередь событий с ограниченным ящиком на пользователя.
type Router struct {
	handler Handler
	size    int
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	boxes  map[int64]*mailbox
	closed bool
	wg     sync.WaitGroup
}

// New создаёт роутер. size ёмкость ящика, timeout ограничение на обработку одного события.
func New(handler Handler, size int, timeout time.Duration, log zerolog.Logger) *Router {
	if size <= 0 {
		size = 32
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Router{handler: handler, size: size, timeout: timeout, log: log, boxes: make(map[int64]*mailbox)}
}

// Submit ставит событие в ящик пользователя. При переполнении вытесняется самое старое событие,
// кроме отмены сценария.
func (r *Router) Submit(ev domain.InboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	box, ok := r.boxes[ev.UserExternalID]
	if !ok {
		box = &mailbox{}
		r.boxes[ev.UserExternalID] = box
	}
	if len(box.events) >= r.size {
		if !r.evict(box, ev) {
			return nil
		}
	}
	box.events = append(box.events, ev)
	if !box.running {
		box.running = true
		r.wg.Add(1)
		go r.drain(ev.UserExternalID, box)
	}
	return nil
}

// evict освобождает место в полном ящике. false означает, что вытеснено само входящее событие.
func (r *Router) evict(box *mailbox, incoming domain.InboundEvent) bool {
	metrics.MailboxDrops.Inc()
	for i, queued := range box.events {
		if queued.Terminal() {
			continue
		}
		r.log.Warn().Int64("user", queued.UserExternalID).Int64("event", queued.ID).Msg("router: ящик переполнен, событие вытеснено")
		box.events = append(box.events[:i], box.events[i+1:]...)
		return true
	}
	if !incoming.Terminal() {
		r.log.Warn().Int64("user", incoming.UserExternalID).Int64("event", incoming.ID).Msg("router: ящик переполнен отменами, новое событие отброшено")
		return false
	}
	box.events = box.events[1:]
	return true
}

func (r *Router) drain(user int64, box *mailbox) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(box.events) == 0 {
			box.running = false
			if r.boxes[user] == box {
				delete(r.boxes, user)
			}
			r.mu.Unlock()
			return
		}
		ev := box.events[0]
		box.events = box.events[1:]
		r.mu.Unlock()
		r.dispatch(ev)
	}
}

// dispatch обрабатывает событие в отвязанном от остановки контексте, чтобы начатый шаг завершился.
func (r *Router) dispatch(ev domain.InboundEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	log := r.log.With().Int64("user", ev.UserExternalID).Str("kind", string(ev.Kind)).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("panic", fmt.Sprint(rec)).Bytes("stack", debug.Stack()).Msg("router: паника в обработчике")
		}
	}()
	if err := r.handler.Handle(ctx, ev); err != nil {
		log.Error().Err(err).Msg("router: ошибка обработки события")
	}
}

// Pending количество событий в ящике пользователя.
func (r *Router) Pending(user int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if box, ok := r.boxes[user]; ok {
		return len(box.events)
	}
	return 0
}

// Close перестаёт принимать события и ждёт, пока ящики опустеют.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("router: ожидание очереди: %w", ctx.Err())
	}
}
