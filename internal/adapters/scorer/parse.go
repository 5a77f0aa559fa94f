package scorer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"remont-lead-bot/internal/domain"
)

// ErrParse ответ модели не удалось разобрать.
var ErrParse = errors.New("ответ LLM не разобран")

// ParseError уточняет причину отказа парсера.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "scorer: " + e.Reason }

// Unwrap позволяет errors.Is(err, ErrParse).
func (e *ParseError) Unwrap() error { return ErrParse }

func parseErr(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

type payload struct {
	IsLead        *bool        `json:"is_lead"`
	Intent        *string      `json:"intent"`
	Hotness       *json.Number `json:"hotness"`
	PainStage     *string      `json:"pain_stage"`
	Justification string       `json:"justification"`
}

// Parse находит первый сбалансированный JSON-объект в ответе и проверяет его по схеме оценки.
func Parse(reply string) (domain.Assessment, error) {
	raw, err := firstObject(reply)
	if err != nil {
		return domain.Assessment{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return domain.Assessment{}, parseErr("некорректный JSON: %v", err)
	}
	switch {
	case p.IsLead == nil:
		return domain.Assessment{}, parseErr("нет поля is_lead")
	case p.Intent == nil:
		return domain.Assessment{}, parseErr("нет поля intent")
	case p.Hotness == nil:
		return domain.Assessment{}, parseErr("нет поля hotness")
	case p.PainStage == nil:
		return domain.Assessment{}, parseErr("нет поля pain_stage")
	}
	hotness, err := p.Hotness.Int64()
	if err != nil || hotness < 1 || hotness > 10 {
		return domain.Assessment{}, parseErr("hotness вне диапазона 1..10: %s", p.Hotness.String())
	}
	stage := domain.PainStage(strings.ToUpper(strings.TrimSpace(*p.PainStage)))
	if !stage.Valid() {
		return domain.Assessment{}, parseErr("неизвестная стадия %q", *p.PainStage)
	}
	return domain.Assessment{
		IsLead:        *p.IsLead,
		Intent:        strings.TrimSpace(*p.Intent),
		Hotness:       int(hotness),
		PainStage:     stage,
		Justification: strings.TrimSpace(p.Justification),
		ScoredBy:      "llm",
	}, nil
}

// firstObject возвращает первый сбалансированный объект, учитывая строки и экранирование.
func firstObject(s string) ([]byte, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, parseErr("в ответе нет JSON-объекта")
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), nil
			}
		}
	}
	return nil, parseErr("незакрытый JSON-объект")
}
