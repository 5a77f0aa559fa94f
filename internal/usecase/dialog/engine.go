// Package dialog отвечает на вопросы клиентов с опорой на базу знаний и передаёт горячих клиентов в анкету.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/usecase/menu"
)

const (
	// ScratchReplies ключ счётчика ответов консультанта в сессии.
	ScratchReplies = "dialog_replies"

	defaultHistory  = 10
	defaultMaxReply = 300
	followUpAfter   = 2
)

// Store данные диалога.
type Store interface {
	domain.DialogRepo
	SetScratch(ctx context.Context, userID int64, key, value string) error
}

// Knowledge источник контекста для ответа.
type Knowledge interface {
	Context(query string) string
}

// Escalator переводит клиента в анкету.
type Escalator interface {
	Escalate(ctx context.Context, user domain.User, ev domain.InboundEvent) error
}

// Config параметры консультанта.
type Config struct {
	Brand    string
	History  int
	MaxReply int
}

// Engine консультант в режимах dialog и invest.
type Engine struct {
	store     Store
	messenger domain.Messenger
	llm       domain.LLM
	kb        Knowledge
	escalator Escalator
	cfg       Config
	log       zerolog.Logger
}

// NewEngine создаёт консультанта.
func NewEngine(store Store, messenger domain.Messenger, llm domain.LLM, kb Knowledge, escalator Escalator, cfg Config, log zerolog.Logger) *Engine {
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	if cfg.MaxReply <= 0 {
		cfg.MaxReply = defaultMaxReply
	}
	if cfg.Brand == "" {
		cfg.Brand = "Перепланировка Про"
	}
	return &Engine{store: store, messenger: messenger, llm: llm, kb: kb, escalator: escalator, cfg: cfg, log: log}
}

// Greet приветствие при входе в режим. Счётчик ответов сбрасывается.
func (e *Engine) Greet(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	if err := e.store.SetScratch(ctx, user.ID, ScratchReplies, ""); err != nil {
		return fmt.Errorf("dialog: сброс счётчика: %w", err)
	}
	text := "Задайте вопрос о перепланировке, согласовании или узаконивании, я постараюсь помочь."
	if _, ok := user.Mode.(domain.ModeInvest); ok {
		text = "Расскажу об инвестициях в коммерческую недвижимость и перевод помещений в нежилой фонд. Что вас интересует?"
	}
	return e.send(ctx, ev.ChatID, text, menu.Choices())
}

// Reply отвечает на вопрос клиента.
func (e *Engine) Reply(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	text := strings.TrimSpace(ev.Text)
	if (ev.Kind != domain.EventText && ev.Kind != domain.EventCallback) || text == "" {
		return e.send(ctx, ev.ChatID, "Пожалуйста, напишите вопрос текстом.", nil)
	}
	if text == menu.ButtonContinue {
		return e.send(ctx, ev.ChatID, "Слушаю вас, задайте следующий вопрос.", nil)
	}
	log := e.log.With().Int64("user", user.ExternalID).Str("mode", domain.ModeName(user.Mode)).Logger()
	if err := e.store.AppendDialog(ctx, user.ID, domain.DialogUser, text); err != nil {
		return fmt.Errorf("dialog: запись вопроса: %w", err)
	}
	if IsEscalation(text) {
		return e.escalate(ctx, user, ev)
	}

	history, err := e.store.RecentDialog(ctx, user.ID, e.cfg.History)
	if err != nil {
		return fmt.Errorf("dialog: история: %w", err)
	}
	replies := replyCount(user)
	_, invest := user.Mode.(domain.ModeInvest)
	req := domain.CompletionRequest{
		System:      systemPrompt(e.cfg.Brand, e.cfg.MaxReply, replies%2 == 0, invest, e.kb.Context(text)),
		User:        renderHistory(history),
		MaxTokens:   400,
		Temperature: 0.3,
	}
	reply, err := e.llm.Complete(ctx, req)
	reply = clip(strings.TrimSpace(reply), e.cfg.MaxReply)
	if err != nil || reply == "" {
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn().Err(err).Msg("dialog: LLM не ответила, отправляем извинение")
		return e.send(ctx, ev.ChatID, "Извините, сейчас не получается ответить. Попробуйте переформулировать вопрос "+
			"или нажмите «"+menu.ButtonExpert+"», и специалист поможет.", menu.DialogFollowUp())
	}
	if err := e.store.AppendDialog(ctx, user.ID, domain.DialogAssistant, reply); err != nil {
		return fmt.Errorf("dialog: запись ответа: %w", err)
	}
	replies++
	if err := e.store.SetScratch(ctx, user.ID, ScratchReplies, strconv.Itoa(replies)); err != nil {
		log.Warn().Err(err).Msg("dialog: не удалось обновить счётчик")
	}
	var kb *domain.Keyboard
	if replies >= followUpAfter {
		kb = menu.DialogFollowUp()
	}
	return e.send(ctx, ev.ChatID, reply, kb)
}

func (e *Engine) escalate(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	const ack = "Понял вас! Подключаю специалиста. Ответьте, пожалуйста, на несколько коротких вопросов, и он свяжется с вами."
	if err := e.send(ctx, ev.ChatID, ack, nil); err != nil {
		return err
	}
	if err := e.store.AppendDialog(ctx, user.ID, domain.DialogAssistant, ack); err != nil {
		return fmt.Errorf("dialog: запись ответа: %w", err)
	}
	e.log.Info().Int64("user", user.ExternalID).Msg("dialog: эскалация в анкету")
	return e.escalator.Escalate(ctx, user, ev)
}

var escalationPhrases = []string{
	"специалист", "менеджер", "консультац", "оператор", "живой человек", "живым человеком",
	"свяжите", "связаться", "перезвоните", "позвоните мне", "оставить заявку",
}

// IsEscalation распознаёт просьбу связать со специалистом.
func IsEscalation(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range escalationPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func replyCount(user domain.User) int {
	n, err := strconv.Atoi(user.Scratch[ScratchReplies])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func systemPrompt(brand string, maxReply int, mentionBrand, invest bool, kbContext string) string {
	var b strings.Builder
	if invest {
		b.WriteString("Ты консультант по инвестициям в коммерческую недвижимость и переводу помещений в нежилой фонд.\n")
	} else {
		b.WriteString("Ты консультант компании по согласованию перепланировок квартир, домов и коммерческих помещений.\n")
	}
	fmt.Fprintf(&b, "Отвечай по-русски, не длиннее %d символов.\n", maxReply)
	b.WriteString("Никогда не называй цены и сроки в деньгах, предлагай бесплатную консультацию специалиста.\n")
	b.WriteString("Опирайся только на справочные материалы ниже. Если ответа в них нет, честно скажи об этом и предложи связаться со специалистом.\n")
	if mentionBrand {
		fmt.Fprintf(&b, "Упомяни компанию «%s» в ответе.\n", brand)
	}
	b.WriteString("\nСправочные материалы:\n")
	if kbContext == "" {
		b.WriteString("(нет подходящих материалов)\n")
	} else {
		b.WriteString(kbContext)
		b.WriteString("\n")
	}
	return b.String()
}

func renderHistory(history []domain.DialogMessage) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role == domain.DialogAssistant {
			b.WriteString("Консультант: ")
		} else {
			b.WriteString("Клиент: ")
		}
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// clip обрезает ответ по последней границе предложения в пределах лимита.
func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndexAny(cut, ".!?"); idx > len(cut)/2 {
		return cut[:idx+1]
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, kb *domain.Keyboard) error {
	if _, err := e.messenger.SendText(ctx, domain.OutboundMessage{ChatID: chatID, Text: text, Keyboard: kb}); err != nil {
		return fmt.Errorf("dialog: отправка: %w", err)
	}
	return nil
}
