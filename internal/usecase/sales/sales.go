// Package sales короткая воронка заказа обратного звонка.
package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/usecase/menu"
)

// Шаги воронки.
const (
	StepPhone = 1
	StepTime  = 2
)

var timeOptions = []string{"Сейчас", "Сегодня до 18:00", "Завтра утром", "Завтра вечером"}

// Service воронка заказа звонка.
type Service struct {
	users      domain.UserRepo
	messenger  domain.Messenger
	notify     domain.NotificationPublisher
	miniAppURL string
	log        zerolog.Logger
}

// NewService создаёт воронку.
func NewService(users domain.UserRepo, messenger domain.Messenger, notify domain.NotificationPublisher, miniAppURL string, log zerolog.Logger) *Service {
	return &Service{users: users, messenger: messenger, notify: notify, miniAppURL: miniAppURL, log: log}
}

// Start начинает воронку: без известного телефона сначала просим номер.
func (s *Service) Start(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	step := StepTime
	if user.Phone == "" {
		step = StepPhone
	}
	if err := s.users.SetUserMode(ctx, user.ID, domain.ModeSales{Step: step}); err != nil {
		return fmt.Errorf("sales: старт: %w", err)
	}
	return s.prompt(ctx, ev.ChatID, step)
}

// Handle обрабатывает ответ на текущем шаге.
func (s *Service) Handle(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	mode, ok := user.Mode.(domain.ModeSales)
	if !ok {
		return fmt.Errorf("%w: пользователь не в воронке звонка", domain.ErrIllegalTransition)
	}
	switch mode.Step {
	case StepPhone:
		raw := ev.Text
		name := ""
		if ev.Kind == domain.EventContact && ev.Contact != nil {
			raw = ev.Contact.Phone
			name = strings.TrimSpace(ev.Contact.FirstName + " " + ev.Contact.LastName)
		}
		phone, ok := domain.ParsePhone(raw)
		if !ok {
			if err := s.send(ctx, ev.ChatID, "Не похоже на номер телефона. Пример: +7 999 111-22-33.", nil); err != nil {
				return err
			}
			return s.prompt(ctx, ev.ChatID, StepPhone)
		}
		if err := s.users.SetContact(ctx, user.ID, phone, name, domain.ModeSales{Step: StepTime}); err != nil {
			return fmt.Errorf("sales: телефон: %w", err)
		}
		return s.prompt(ctx, ev.ChatID, StepTime)
	case StepTime:
		when := strings.TrimSpace(ev.Text)
		if (ev.Kind != domain.EventText && ev.Kind != domain.EventCallback) || when == "" || len([]rune(when)) > 100 {
			return s.prompt(ctx, ev.ChatID, StepTime)
		}
		return s.finish(ctx, user, ev, when)
	}
	return fmt.Errorf("%w: шаг %d", domain.ErrIllegalTransition, mode.Step)
}

func (s *Service) finish(ctx context.Context, user domain.User, ev domain.InboundEvent, when string) error {
	fresh, err := s.users.GetUser(ctx, user.ExternalID)
	if err != nil {
		return fmt.Errorf("sales: пользователь: %w", err)
	}
	n := domain.Notification{
		Kind:   domain.NotifyCallback,
		Text:   formatRequest(fresh, when),
		UserID: fresh.ExternalID,
	}
	if err := s.notify.Publish(ctx, n); err != nil {
		return fmt.Errorf("sales: уведомление: %w", err)
	}
	if err := s.users.SetUserMode(ctx, user.ID, domain.ModeNone{}); err != nil {
		return fmt.Errorf("sales: сброс режима: %w", err)
	}
	s.log.Info().Int64("user", user.ExternalID).Msg("sales: заказан звонок")
	return s.send(ctx, ev.ChatID, "Спасибо! Специалист перезвонит вам: "+strings.ToLower(when)+".", menu.Main(s.miniAppURL))
}

func formatRequest(user domain.User, when string) string {
	lines := []string{
		"📞 Запрос обратного звонка",
		"Имя: " + orDash(user.DisplayName),
		"Телефон: " + orDash(user.Phone),
	}
	if user.Username != "" {
		lines = append(lines, "Telegram: @"+user.Username)
	}
	lines = append(lines, "Удобное время: "+when)
	return strings.Join(lines, "\n")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "—"
	}
	return v
}

func (s *Service) prompt(ctx context.Context, chatID int64, step int) error {
	if step == StepPhone {
		return s.send(ctx, chatID, "Оставьте номер телефона, и мы перезвоним.", menu.Contact())
	}
	return s.send(ctx, chatID, "Когда вам удобно принять звонок?", menu.Choices(timeOptions...))
}

func (s *Service) send(ctx context.Context, chatID int64, text string, kb *domain.Keyboard) error {
	if _, err := s.messenger.SendText(ctx, domain.OutboundMessage{ChatID: chatID, Text: text, Keyboard: kb}); err != nil {
		return fmt.Errorf("sales: отправка: %w", err)
	}
	return nil
}
