package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// Task фоновая задача процесса.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// restartPolicy задержки между перезапусками упавшей задачи.
type restartPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p restartPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// supervise держит задачу запущенной до отмены ctx. Временные сбои и паники перезапускаются
// с экспоненциальной задержкой; постоянная ошибка останавливает только эту задачу.
func supervise(ctx context.Context, t Task, policy restartPolicy, log zerolog.Logger) {
	log = log.With().Str("task", t.Name).Logger()
	b := policy.backOff()
	for {
		started := time.Now()
		err := runSafe(ctx, t)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Info().Msg("app: задача завершилась")
			return
		}
		if domain.IsPermanent(err) {
			log.Error().Err(err).Msg("app: задача остановлена из-за постоянной ошибки")
			return
		}
		if time.Since(started) > policy.Max {
			b.Reset()
		}
		delay := b.NextBackOff()
		metrics.TaskRestarts.WithLabelValues(t.Name).Inc()
		log.Warn().Err(err).Dur("delay", delay).Msg("app: перезапуск задачи")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

var errPanic = errors.New("паника в задаче")

func runSafe(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return t.Run(ctx)
}

type panicError struct{ value any }

func (e panicError) Error() string { return fmt.Sprintf("%v: %v", errPanic, e.value) }
func (e panicError) Unwrap() error { return errPanic }
