package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/usecase/menu"
)

// QuizFlow автомат анкеты.
type QuizFlow interface {
	AskConsent(ctx context.Context, ev domain.InboundEvent) error
	Consent(ctx context.Context, user domain.User, ev domain.InboundEvent) error
	Start(ctx context.Context, user domain.User, ev domain.InboundEvent) error
	Handle(ctx context.Context, user domain.User, ev domain.InboundEvent) error
}

// Conversation диалог с консультантом.
type Conversation interface {
	Greet(ctx context.Context, user domain.User, ev domain.InboundEvent) error
	Reply(ctx context.Context, user domain.User, ev domain.InboundEvent) error
}

// CallbackFlow воронка заказа звонка.
type CallbackFlow interface {
	Start(ctx context.Context, user domain.User, ev domain.InboundEvent) error
	Handle(ctx context.Context, user domain.User, ev domain.InboundEvent) error
}

// Operator команды рабочего чата сотрудников.
type Operator interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
}

// Dispatcher выбирает сценарий для события по режиму пользователя.
type Dispatcher struct {
	users      domain.UserRepo
	messenger  domain.Messenger
	quiz       QuizFlow
	dialog     Conversation
	sales      CallbackFlow
	operator   Operator
	staffChat  int64
	miniAppURL string
	log        zerolog.Logger
}

// DispatcherConfig параметры диспетчера.
type DispatcherConfig struct {
	StaffChatID int64
	MiniAppURL  string
}

// NewDispatcher создаёт диспетчер. operator может быть nil, тогда рабочий чат игнорируется.
func NewDispatcher(users domain.UserRepo, messenger domain.Messenger, quiz QuizFlow, dialog Conversation, sales CallbackFlow, operator Operator, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		users:      users,
		messenger:  messenger,
		quiz:       quiz,
		dialog:     dialog,
		sales:      sales,
		operator:   operator,
		staffChat:  cfg.StaffChatID,
		miniAppURL: cfg.MiniAppURL,
		log:        log,
	}
}

var _ Handler = (*Dispatcher)(nil)

// Handle реализует Handler.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.InboundEvent) error {
	if d.staffChat != 0 && ev.ChatID == d.staffChat {
		if d.operator == nil {
			return nil
		}
		return d.operator.Handle(ctx, ev)
	}
	if ev.Kind == domain.EventCallback && ev.CallbackID != "" {
		if err := d.messenger.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
			d.log.Warn().Err(err).Int64("user", ev.UserExternalID).Msg("router: не удалось ответить на callback")
		}
	}
	text := strings.TrimSpace(ev.Text)
	user, err := d.users.GetOrCreateUser(ctx, ev.UserExternalID, domain.Profile{
		DisplayName: strings.TrimSpace(ev.FirstName),
		Username:    ev.Username,
		Source:      startSource(text),
	})
	if err != nil {
		return fmt.Errorf("router: пользователь %d: %w", ev.UserExternalID, err)
	}

	switch {
	case ev.Terminal():
		return d.cancel(ctx, user, ev)
	case isStart(text):
		return d.start(ctx, user, ev)
	case !user.Consent:
		return d.quiz.Consent(ctx, user, ev)
	}

	switch menu.ParseAction(text) {
	case menu.ActionQuiz:
		return d.quiz.Start(ctx, user, ev)
	case menu.ActionDialog:
		return d.enter(ctx, user, ev, domain.ModeDialog{})
	case menu.ActionInvest:
		return d.enter(ctx, user, ev, domain.ModeInvest{})
	case menu.ActionCallback:
		return d.sales.Start(ctx, user, ev)
	}

	switch user.Mode.(type) {
	case domain.ModeQuiz:
		return d.quiz.Handle(ctx, user, ev)
	case domain.ModeSales:
		return d.sales.Handle(ctx, user, ev)
	default:
		return d.dialog.Reply(ctx, user, ev)
	}
}

func (d *Dispatcher) start(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	if !user.Consent {
		return d.quiz.AskConsent(ctx, ev)
	}
	if _, idle := user.Mode.(domain.ModeNone); !idle {
		if err := d.users.SetUserMode(ctx, user.ID, domain.ModeNone{}); err != nil {
			return fmt.Errorf("router: сброс режима: %w", err)
		}
	}
	return d.send(ctx, ev.ChatID, "С возвращением! Выберите, что вас интересует.", menu.Main(d.miniAppURL))
}

// cancel прерывает сценарий. Без согласия пользователя ничего не записывается.
func (d *Dispatcher) cancel(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	if !user.Consent {
		return d.send(ctx, ev.ChatID, "Хорошо. Если передумаете, отправьте /start.", menu.Remove())
	}
	if _, idle := user.Mode.(domain.ModeNone); !idle {
		if err := d.users.SetUserMode(ctx, user.ID, domain.ModeNone{}); err != nil {
			return fmt.Errorf("router: отмена: %w", err)
		}
	}
	return d.send(ctx, ev.ChatID, "Хорошо, остановились. Чем ещё можем помочь?", menu.Main(d.miniAppURL))
}

func (d *Dispatcher) enter(ctx context.Context, user domain.User, ev domain.InboundEvent, mode domain.Mode) error {
	if err := d.users.SetUserMode(ctx, user.ID, mode); err != nil {
		return fmt.Errorf("router: режим %s: %w", domain.ModeName(mode), err)
	}
	user.Mode = mode
	return d.dialog.Greet(ctx, user, ev)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, kb *domain.Keyboard) error {
	if _, err := d.messenger.SendText(ctx, domain.OutboundMessage{ChatID: chatID, Text: text, Keyboard: kb}); err != nil {
		return fmt.Errorf("router: отправка: %w", err)
	}
	return nil
}

func isStart(text string) bool {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.EqualFold(cmd, "/start")
}

// startSource метка источника из deep link вида /start src_vk.
func startSource(text string) string {
	if !isStart(text) {
		return ""
	}
	_, payload, _ := strings.Cut(text, " ")
	payload = strings.TrimSpace(payload)
	if len(payload) > 64 {
		payload = payload[:64]
	}
	return payload
}
