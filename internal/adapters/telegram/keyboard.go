package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"remont-lead-bot/internal/domain"
)

// Разметка описана своими структурами: в tgbotapi v5.5 нет кнопок web_app.
type webApp struct {
	URL string `json:"url"`
}

type inlineButton struct {
	Text         string  `json:"text"`
	CallbackData string  `json:"callback_data,omitempty"`
	URL          string  `json:"url,omitempty"`
	WebApp       *webApp `json:"web_app,omitempty"`
}

type replyButton struct {
	Text           string  `json:"text"`
	RequestContact bool    `json:"request_contact,omitempty"`
	WebApp         *webApp `json:"web_app,omitempty"`
}

type inlineMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type replyMarkup struct {
	Keyboard        [][]replyButton `json:"keyboard"`
	ResizeKeyboard  bool            `json:"resize_keyboard"`
	OneTimeKeyboard bool            `json:"one_time_keyboard,omitempty"`
}

type removeMarkup struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

// markup переводит клавиатуру домена в reply_markup Bot API.
func markup(kb *domain.Keyboard) any {
	switch {
	case kb == nil:
		return nil
	case kb.Remove:
		return removeMarkup{RemoveKeyboard: true}
	case kb.Inline:
		rows := make([][]inlineButton, 0, len(kb.Rows))
		for _, row := range kb.Rows {
			buttons := make([]inlineButton, 0, len(row))
			for _, b := range row {
				btn := inlineButton{Text: b.Text, CallbackData: b.Data, URL: b.URL}
				if b.WebAppURL != "" {
					btn.WebApp = &webApp{URL: b.WebAppURL}
				}
				buttons = append(buttons, btn)
			}
			rows = append(rows, buttons)
		}
		return inlineMarkup{InlineKeyboard: rows}
	default:
		rows := make([][]replyButton, 0, len(kb.Rows))
		oneTime := false
		for _, row := range kb.Rows {
			buttons := make([]replyButton, 0, len(row))
			for _, b := range row {
				btn := replyButton{Text: b.Text, RequestContact: b.RequestContact}
				if b.WebAppURL != "" {
					btn.WebApp = &webApp{URL: b.WebAppURL}
				}
				oneTime = oneTime || b.RequestContact
				buttons = append(buttons, btn)
			}
			rows = append(rows, buttons)
		}
		return replyMarkup{Keyboard: rows, ResizeKeyboard: true, OneTimeKeyboard: oneTime}
	}
}

func addKeyboard(params tgbotapi.Params, kb *domain.Keyboard) error {
	m := markup(kb)
	if m == nil {
		return nil
	}
	return params.AddInterface("reply_markup", m)
}
