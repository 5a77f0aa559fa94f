// Package jobs содержит фоновые задачи по расписанию: ежедневную сводку и напоминания о брошенных анкетах.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remont-lead-bot/internal/domain"
)

const (
	defaultReminderAfter = 2 * time.Hour
	defaultReminderEvery = 10 * time.Minute
	defaultReminderBatch = 50
)

// Store хранилище, которое используют задачи.
type Store interface {
	domain.StatsRepo
	ListStaleQuizUsers(ctx context.Context, idleSince time.Time, limit int) ([]domain.User, error)
	MarkReminded(ctx context.Context, userID int64, at time.Time) error
}

// Reminder повторяет текущий вопрос анкеты.
type Reminder interface {
	Remind(ctx context.Context, user domain.User) error
}

// Config расписание задач.
type Config struct {
	SummaryHour   int
	Location      *time.Location
	ReminderAfter time.Duration
	ReminderEvery time.Duration
	ReminderBatch int
}

// Jobs планировщик фоновых задач.
type Jobs struct {
	store    Store
	reminder Reminder
	notify   domain.NotificationPublisher
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// Option настраивает задачи.
type Option func(*Jobs)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(j *Jobs) { j.now = now }
}

// New создаёт планировщик.
func New(store Store, reminder Reminder, notify domain.NotificationPublisher, cfg Config, log zerolog.Logger, opts ...Option) *Jobs {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SummaryHour < 0 || cfg.SummaryHour > 23 {
		cfg.SummaryHour = 9
	}
	if cfg.ReminderAfter <= 0 {
		cfg.ReminderAfter = defaultReminderAfter
	}
	if cfg.ReminderEvery <= 0 {
		cfg.ReminderEvery = defaultReminderEvery
	}
	if cfg.ReminderBatch <= 0 {
		cfg.ReminderBatch = defaultReminderBatch
	}
	j := &Jobs{store: store, reminder: reminder, notify: notify, cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run запускает обе задачи до отмены контекста.
func (j *Jobs) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return j.summaryLoop(ctx) })
	g.Go(func() error { return j.reminderLoop(ctx) })
	return g.Wait()
}

func (j *Jobs) summaryLoop(ctx context.Context) error {
	for {
		now := j.now()
		wait := j.NextSummary(now).Sub(now)
		j.log.Debug().Dur("wait", wait).Msg("jobs: ожидание сводки")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := j.SendSummary(ctx); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			j.log.Error().Err(err).Msg("jobs: сводка не отправлена")
		}
	}
}

func (j *Jobs) reminderLoop(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.ReminderEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := j.RemindStale(ctx)
		switch {
		case errors.Is(err, domain.ErrStoreUnavailable):
			return err
		case err != nil:
			j.log.Error().Err(err).Msg("jobs: напоминания не отправлены")
		case n > 0:
			j.log.Info().Int("users", n).Msg("jobs: напоминания отправлены")
		}
	}
}

// NextSummary ближайший момент отправки сводки строго после now.
func (j *Jobs) NextSummary(now time.Time) time.Time {
	local := now.In(j.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), j.cfg.SummaryHour, 0, 0, 0, j.cfg.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SendSummary публикует сводку за последние сутки.
func (j *Jobs) SendSummary(ctx context.Context) error {
	now := j.now()
	stats, err := j.store.Stats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("jobs: статистика: %w", err)
	}
	n := domain.Notification{Kind: domain.NotifySummary, Text: FormatSummary(stats, now.In(j.cfg.Location)), CreatedAt: now}
	if err := j.notify.Publish(ctx, n); err != nil {
		return fmt.Errorf("jobs: публикация сводки: %w", err)
	}
	return nil
}

// RemindStale напоминает пользователям, которые давно не отвечали в анкете. Каждому не более одного раза за простой.
func (j *Jobs) RemindStale(ctx context.Context) (int, error) {
	now := j.now()
	users, err := j.store.ListStaleQuizUsers(ctx, now.Add(-j.cfg.ReminderAfter), j.cfg.ReminderBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, u := range users {
		if err := j.reminder.Remind(ctx, u); err != nil {
			j.log.Warn().Err(err).Int64("user", u.ExternalID).Msg("jobs: напоминание не отправлено")
			if !domain.IsTransient(err) {
				// заблокировавшему бота больше не напоминаем
				_ = j.store.MarkReminded(ctx, u.ID, now)
			}
			continue
		}
		if err := j.store.MarkReminded(ctx, u.ID, now); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// FormatSummary текст ежедневной сводки.
func FormatSummary(s domain.Stats, at time.Time) string {
	lines := []string{
		fmt.Sprintf("📊 Сводка на %s", at.Format("02.01.2006 15:04")),
		"",
		fmt.Sprintf("Заявки за сутки: %d (всего %d, новых %d)", s.LeadsSince, s.Leads, s.LeadsNew),
		fmt.Sprintf("Пользователи: %d, дали согласие: %d", s.Users, s.ConsentedUsers),
		fmt.Sprintf("Наблюдения охотника: %d, горячих: %d", s.Observations, s.HotObservations),
		fmt.Sprintf("Источники: активных %d, ждут проверки %d", s.ActiveTargets, s.PendingTargets),
		fmt.Sprintf("Контент: на ревью %d, запланировано %d, опубликовано за сутки %d", s.ContentInReview, s.ContentScheduled, s.PublishedSince),
	}
	return strings.Join(lines, "\n")
}
