package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
)

const systemPrompt = `Ты аналитик компании, которая согласовывает перепланировки квартир и нежилых помещений.
Оцени сообщение из чата жильцов: есть ли у автора потребность в наших услугах.
Стадии боли: ST-1 интересуется, ST-2 планирует ремонт, ST-3 технический вопрос по согласованию, ST-4 получил предписание или штраф.
Ответ верни строго JSON: {"is_lead": bool, "intent": "...", "hotness": 1..10, "pain_stage": "ST-1".."ST-4", "justification": "..."}.`

// LLMScorer оценивает сообщения через LLM. Если ответ не разобран или модель недоступна, работает словарный классификатор.
type LLMScorer struct {
	llm   domain.LLM
	rules Rules
	log   zerolog.Logger
}

var _ domain.Scorer = (*LLMScorer)(nil)

// NewLLM создаёт оценщика. llm может быть nil, тогда используются только правила.
func NewLLM(llm domain.LLM, rules Rules, log zerolog.Logger) *LLMScorer {
	return &LLMScorer{llm: llm, rules: rules, log: log}
}

// Score возвращает оценку. Ошибка возвращается только при отмене контекста.
func (s *LLMScorer) Score(ctx context.Context, text string) (domain.Assessment, error) {
	if s.llm == nil {
		return s.fallback(text), nil
	}
	reply, err := s.llm.Complete(ctx, domain.CompletionRequest{
		System:      systemPrompt,
		User:        fmt.Sprintf("Сообщение:\n%s", text),
		MaxTokens:   300,
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Assessment{}, ctx.Err()
		}
		s.log.Warn().Err(err).Msg("scorer: LLM недоступна, оценка по правилам")
		return s.fallback(text), nil
	}
	assessment, err := Parse(reply)
	if err != nil {
		if !errors.Is(err, ErrParse) {
			return domain.Assessment{}, err
		}
		s.log.Warn().Err(err).Msg("scorer: ответ не разобран, оценка по правилам")
		return s.fallback(text), nil
	}
	return assessment, nil
}

func (s *LLMScorer) fallback(text string) domain.Assessment {
	return s.rules.Classify(text)
}
