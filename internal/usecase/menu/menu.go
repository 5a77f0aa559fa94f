// Package menu содержит общие кнопки и клавиатуры диалога с клиентом.
package menu

import (
	"strings"

	"remont-lead-bot/internal/domain"
)

// Подписи кнопок главного меню.
const (
	ButtonQuiz     = "📝 Оставить заявку"
	ButtonDialog   = "💬 Задать вопрос"
	ButtonInvest   = "🏢 Инвестиции"
	ButtonCallback = "📞 Заказать звонок"
	ButtonMiniApp  = "📱 Личный кабинет"
	ButtonConsent  = "✅ consent"
	ButtonCancel   = "❌ Отмена"
	ButtonContinue = "💬 Продолжить"
	ButtonExpert   = "👤 Связаться со специалистом"
)

// Action действие, выбранное кнопкой главного меню.
type Action int

const (
	ActionNone Action = iota
	ActionQuiz
	ActionDialog
	ActionInvest
	ActionCallback
)

// ParseAction распознаёт кнопку меню или команду.
func ParseAction(text string) Action {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case strings.ToLower(ButtonQuiz), "/quiz", "quiz":
		return ActionQuiz
	case strings.ToLower(ButtonDialog), "/ask", "ask":
		return ActionDialog
	case strings.ToLower(ButtonInvest), "/invest", "invest":
		return ActionInvest
	case strings.ToLower(ButtonCallback), "/call", "call":
		return ActionCallback
	}
	return ActionNone
}

// IsConsent сравнивает ответ с фразой согласия без учёта регистра.
func IsConsent(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), ButtonConsent)
}

// Main главное меню. Кнопка мини-приложения добавляется, если задан адрес.
func Main(miniAppURL string) *domain.Keyboard {
	rows := [][]domain.Button{
		{{Text: ButtonQuiz}, {Text: ButtonDialog}},
		{{Text: ButtonInvest}, {Text: ButtonCallback}},
	}
	if miniAppURL != "" {
		rows = append(rows, []domain.Button{{Text: ButtonMiniApp, WebAppURL: miniAppURL}})
	}
	return &domain.Keyboard{Rows: rows}
}

// Consent кнопки согласия на обработку данных.
func Consent() *domain.Keyboard {
	return &domain.Keyboard{Rows: [][]domain.Button{{{Text: ButtonConsent}}, {{Text: ButtonCancel}}}}
}

// Contact запрос контакта.
func Contact() *domain.Keyboard {
	return &domain.Keyboard{Rows: [][]domain.Button{{{Text: "📲 Поделиться контактом", RequestContact: true}}, {{Text: ButtonCancel}}}}
}

// Choices клавиатура вариантов ответа, по одному в ряд, с кнопкой отмены.
func Choices(options ...string) *domain.Keyboard {
	rows := make([][]domain.Button, 0, len(options)+1)
	for _, o := range options {
		rows = append(rows, []domain.Button{{Text: o}})
	}
	rows = append(rows, []domain.Button{{Text: ButtonCancel}})
	return &domain.Keyboard{Rows: rows}
}

// DialogFollowUp предложение продолжить диалог или перейти к специалисту.
func DialogFollowUp() *domain.Keyboard {
	return &domain.Keyboard{Rows: [][]domain.Button{{{Text: ButtonContinue}, {Text: ButtonExpert}}, {{Text: ButtonQuiz}}}}
}

// Remove убирает клавиатуру.
func Remove() *domain.Keyboard {
	return &domain.Keyboard{Remove: true}
}
