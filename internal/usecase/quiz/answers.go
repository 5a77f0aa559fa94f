package quiz

import (
	"strconv"
	"strings"
	"unicode"

	"remont-lead-bot/internal/domain"
)

// Варианты ответов на кнопках.
const (
	optionResidential = "🏠 Квартира"
	optionCommercial  = "🏬 Коммерческое помещение"
	optionHouse       = "🏡 Частный дом"
	optionPlanned     = "📐 Планирую"
	optionDone        = "✅ Уже сделана"
	optionUnknown     = "Не знаю"
	optionNo          = "Нет"
)

// stripMarks убирает эмодзи и знаки в начале ответа с кнопки.
func stripMarks(s string) string {
	return strings.ToLower(strings.TrimLeftFunc(strings.TrimSpace(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

// parseObjectType принимает только значения из фиксированного набора.
func parseObjectType(text string) (domain.ObjectType, bool) {
	switch stripMarks(text) {
	case "residential", "квартира", "жилое", "жилое помещение":
		return domain.ObjectResidential, true
	case "commercial", "коммерческое помещение", "коммерческое", "нежилое", "нежилое помещение":
		return domain.ObjectCommercial, true
	case "house", "частный дом", "дом":
		return domain.ObjectHouse, true
	}
	return "", false
}

// parseArea разбирает площадь с пробелами, запятой или точкой. Пустая строка означает «не указано».
func parseArea(text string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	switch s {
	case strings.ToLower(optionUnknown), "-", "нет", "пропустить":
		return "", true
	}
	for _, unit := range []string{"кв.м.", "кв.м", "кв м", "м²", "м2", "m2", "метров", "м"} {
		s = strings.TrimSuffix(strings.TrimSpace(s), unit)
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v > 100000 {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

func parseStatus(text string) (domain.RemodelStatus, bool) {
	switch stripMarks(text) {
	case "planned", "планирую", "планируется", "план", "только планирую":
		return domain.RemodelPlanned, true
	case "done", "уже сделана", "сделана", "сделано", "выполнена":
		return domain.RemodelDone, true
	}
	return "", false
}

func isNo(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "no", "нет", "пропустить", "-":
		return true
	}
	return false
}

// answer переводит событие в канонический ответ шага или возвращает подсказку для повторного ввода.
func answer(stage domain.QuizStage, ev domain.InboundEvent) (string, string) {
	text := strings.TrimSpace(ev.Text)
	isText := ev.Kind == domain.EventText || ev.Kind == domain.EventCallback
	switch stage {
	case domain.StageCity:
		if !isText || text == "" || len([]rune(text)) > 100 {
			return "", "Напишите название города текстом."
		}
		return text, ""
	case domain.StageType:
		if t, ok := parseObjectType(text); isText && ok {
			return string(t), ""
		}
		return "", "Выберите тип объекта кнопкой ниже."
	case domain.StageFloor:
		if !isText || text == "" || len([]rune(text)) > 20 {
			return "", "Укажите этаж, например: 5."
		}
		return text, ""
	case domain.StageArea:
		if v, ok := parseArea(text); isText && ok {
			return v, ""
		}
		return "", "Площадь должна быть положительным числом, например: 54,5."
	case domain.StageStatus:
		if s, ok := parseStatus(text); isText && ok {
			return string(s), ""
		}
		return "", "Выберите вариант кнопкой ниже."
	case domain.StageDescription:
		if !isText || text == "" || len([]rune(text)) > 2000 {
			return "", "Опишите задачу текстом, до 2000 символов."
		}
		return text, ""
	case domain.StageAttachment:
		switch {
		case ev.Kind == domain.EventPhoto && ev.FileID != "":
			return "photo:" + ev.FileID, ""
		case ev.Kind == domain.EventDocument && ev.FileID != "":
			return "document:" + ev.FileID, ""
		case isText && isNo(text):
			return "", ""
		}
		return "", "Пришлите фото или документ либо напишите «нет»."
	}
	return "", "Не удалось распознать ответ."
}
