package scorer

import (
	"strings"

	"remont-lead-bot/internal/domain"
)

// Rules словари резервного классификатора.
type Rules struct {
	// Critical признаки предписаний и санкций.
	Critical []string `yaml:"critical"`
	// Technical технические термины перепланировки.
	Technical []string `yaml:"technical"`
}

// DefaultRules словари по умолчанию.
func DefaultRules() Rules {
	return Rules{
		Critical: []string{
			"предписание", "предписани", "мжи", "жилинспекц", "госжилинспекц", "штраф", "в суд", "судебн",
			"акт проверки", "приведение в исходное", "незаконная перепланировка",
		},
		Technical: []string{
			"перепланиров", "несущ", "бти", "техплан", "проект", "согласован", "узакон",
			"мокрая зона", "демонтаж", "перенос кухни", "объединение", "проём", "проем",
		},
	}
}

// Classify оценивает текст по словарям: предписание даёт ST-4, технический вопрос ST-3, остальное ST-1.
func (r Rules) Classify(text string) domain.Assessment {
	lower := strings.ToLower(text)
	if term, ok := firstMatch(lower, r.Critical); ok {
		return domain.Assessment{
			IsLead:        true,
			Intent:        "enforcement",
			Hotness:       8,
			PainStage:     domain.PainEnforcement,
			Justification: "найден признак предписания: " + term,
			ScoredBy:      "rules",
		}
	}
	if term, ok := firstMatch(lower, r.Technical); ok {
		return domain.Assessment{
			IsLead:        true,
			Intent:        "technical",
			Hotness:       5,
			PainStage:     domain.PainTechnical,
			Justification: "технический вопрос: " + term,
			ScoredBy:      "rules",
		}
	}
	return domain.Assessment{
		Intent:        "info",
		Hotness:       2,
		PainStage:     domain.PainInfo,
		Justification: "нет признаков срочности",
		ScoredBy:      "rules",
	}
}

func firstMatch(text string, terms []string) (string, bool) {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}
