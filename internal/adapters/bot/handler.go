// Package bot переводит обновления Bot API во входящие события и передаёт их роутеру.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// Sink принимает входящие события.
type Sink interface {
	Submit(ev domain.InboundEvent) error
}

// Handler принимает обновления из webhook или long polling.
type Handler struct {
	sink Sink
	log  zerolog.Logger
}

// NewHandler создаёт обработчик обновлений.
func NewHandler(sink Sink, log zerolog.Logger) *Handler {
	return &Handler{sink: sink, log: log}
}

// HandleUpdate переводит обновление в событие. Неподдерживаемые обновления пропускаются.
func (h *Handler) HandleUpdate(_ context.Context, raw []byte) {
	ev, ok, err := Decode(raw)
	if err != nil {
		h.log.Warn().Err(err).Msg("bot: не удалось разобрать обновление")
		return
	}
	if !ok {
		return
	}
	if err := h.sink.Submit(ev); err != nil {
		h.log.Warn().Err(err).Int64("user", ev.UserExternalID).Int64("update", ev.ID).Msg("bot: событие не принято")
	}
}

// Requester выполняет методы Bot API.
type Requester interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Poll читает обновления методом getUpdates до отмены контекста.
// Таймаут long polling должен быть меньше таймаута HTTP-клиента.
func (h *Handler) Poll(ctx context.Context, api Requester, timeout int) error {
	offset := 0
	delay := time.Second
	h.log.Info().Int("timeout", timeout).Msg("bot: long polling запущен")
	for ctx.Err() == nil {
		params := tgbotapi.Params{}
		params.AddNonZero("offset", offset)
		params.AddNonZero("timeout", timeout)
		if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
			return err
		}
		start := time.Now()
		resp, err := api.MakeRequest("getUpdates", params)
		metrics.ObserveNetworkRequest("telegram_bot", "getUpdates", "poll", start, err)
		if err != nil {
			h.log.Warn().Err(err).Dur("delay", delay).Msg("bot: ошибка getUpdates")
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, 30*time.Second)
			continue
		}
		delay = time.Second
		var updates []json.RawMessage
		if err := json.Unmarshal(resp.Result, &updates); err != nil {
			return fmt.Errorf("bot: decode getUpdates: %w", err)
		}
		for _, raw := range updates {
			var head struct {
				UpdateID int `json:"update_id"`
			}
			if err := json.Unmarshal(raw, &head); err == nil && head.UpdateID >= offset {
				offset = head.UpdateID + 1
			}
			h.HandleUpdate(ctx, raw)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// extras поля Bot API новее версии tgbotapi: темы форума и данные мини-приложения.
type extras struct {
	Message *struct {
		ThreadID   int `json:"message_thread_id"`
		WebAppData *struct {
			Data string `json:"data"`
		} `json:"web_app_data"`
	} `json:"message"`
	CallbackQuery *struct {
		Message *struct {
			ThreadID int `json:"message_thread_id"`
		} `json:"message"`
	} `json:"callback_query"`
}

// Decode разбирает JSON обновления в событие.
func Decode(raw []byte) (domain.InboundEvent, bool, error) {
	var upd tgbotapi.Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return domain.InboundEvent{}, false, fmt.Errorf("bot: decode update: %w", err)
	}
	var ext extras
	if err := json.Unmarshal(raw, &ext); err != nil {
		return domain.InboundEvent{}, false, fmt.Errorf("bot: decode update: %w", err)
	}
	if m := ext.Message; m != nil && m.WebAppData != nil && upd.Message != nil && upd.Message.Text == "" {
		upd.Message.Text = m.WebAppData.Data
	}
	ev, ok := Translate(upd)
	if !ok {
		return ev, false, nil
	}
	switch {
	case ext.Message != nil:
		ev.ThreadID = ext.Message.ThreadID
	case ext.CallbackQuery != nil && ext.CallbackQuery.Message != nil:
		ev.ThreadID = ext.CallbackQuery.Message.ThreadID
	}
	return ev, true, nil
}

// Translate переводит сообщение или нажатие inline-кнопки в событие.
func Translate(upd tgbotapi.Update) (domain.InboundEvent, bool) {
	switch {
	case upd.Message != nil:
		return fromMessage(int64(upd.UpdateID), upd.Message)
	case upd.CallbackQuery != nil:
		return fromCallback(int64(upd.UpdateID), upd.CallbackQuery)
	}
	return domain.InboundEvent{}, false
}

func fromMessage(id int64, msg *tgbotapi.Message) (domain.InboundEvent, bool) {
	if msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return domain.InboundEvent{}, false
	}
	ev := domain.InboundEvent{
		ID:             id,
		UserExternalID: msg.From.ID,
		ChatID:         msg.Chat.ID,
		MessageID:      msg.MessageID,
		FirstName:      msg.From.FirstName,
		Username:       msg.From.UserName,
		Timestamp:      msg.Time(),
	}
	switch {
	case msg.Contact != nil:
		ev.Kind = domain.EventContact
		ev.Contact = &domain.Contact{
			Phone:     msg.Contact.PhoneNumber,
			FirstName: msg.Contact.FirstName,
			LastName:  msg.Contact.LastName,
			UserID:    msg.Contact.UserID,
		}
	case msg.Voice != nil:
		ev.Kind = domain.EventVoice
		ev.FileID = msg.Voice.FileID
		ev.MimeType = msg.Voice.MimeType
	case len(msg.Photo) > 0:
		// последний размер самый крупный
		ev.Kind = domain.EventPhoto
		ev.FileID = msg.Photo[len(msg.Photo)-1].FileID
		ev.Text = strings.TrimSpace(msg.Caption)
	case msg.Document != nil:
		ev.Kind = domain.EventDocument
		ev.FileID = msg.Document.FileID
		ev.MimeType = msg.Document.MimeType
		ev.Text = strings.TrimSpace(msg.Caption)
	case strings.TrimSpace(msg.Text) != "":
		ev.Kind = domain.EventText
		ev.Text = strings.TrimSpace(msg.Text)
	default:
		return domain.InboundEvent{}, false
	}
	return ev, true
}

func fromCallback(id int64, cb *tgbotapi.CallbackQuery) (domain.InboundEvent, bool) {
	if cb.From == nil {
		return domain.InboundEvent{}, false
	}
	ev := domain.InboundEvent{
		ID:             id,
		UserExternalID: cb.From.ID,
		ChatID:         cb.From.ID,
		Kind:           domain.EventCallback,
		Text:           cb.Data,
		CallbackID:     cb.ID,
		FirstName:      cb.From.FirstName,
		Username:       cb.From.UserName,
		Timestamp:      time.Now(),
	}
	if cb.Message != nil {
		if cb.Message.Chat != nil {
			ev.ChatID = cb.Message.Chat.ID
		}
		ev.MessageID = cb.Message.MessageID
	}
	return ev, true
}
