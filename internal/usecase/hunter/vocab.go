package hunter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Vocabulary словари фильтров охотника. Хранится в YAML, пустые разделы берутся из значений по умолчанию.
type Vocabulary struct {
	Keywords   []string `yaml:"keywords"`
	Questions  []string `yaml:"questions"`
	Technical  []string `yaml:"technical"`
	Commercial []string `yaml:"commercial"`
	Junk       []string `yaml:"junk"`
	Complexes  []string `yaml:"complexes"`
	// Critical термины предписаний и штрафов для запасного классификатора.
	Critical []string `yaml:"critical"`
}

// DefaultVocabulary словари для перепланировок.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Keywords: []string{
			"перепланиров", "узакон", "согласован", "снести стен", "снос стен", "объединить", "объединение",
			"мокрая зона", "мокрой зоны", "санузел", "кухня-гостиная", "балкон", "лоджи", "мжи", "бти", "техплан",
			"нежилой фонд", "перевод в нежил",
		},
		Questions: []string{
			`\?`,
			`(?i)(^|[^\p{L}])(кто|как|где|сколько|можно ли|подскажите|посоветуйте|что делать)([^\p{L}]|$)`,
		},
		Technical: []string{
			"несущ", "проект", "техзаключени", "экспертиз", "вентиляц", "гидроизоляц", "стояк", "газ", "перекрыти",
		},
		Commercial: []string{
			"стоимост", "сколько стоит", "цена", "цены", "посоветуйте компанию", "кто делал", "кто занимался",
			"ищу", "нужна помощь", "порекомендуйте", "контакты", "штраф", "предписани",
		},
		Junk: []string{
			"продам", "сдам", "куплю", "розыгрыш", "подписывайтесь", "реклама", "скидка", "акция", "казино", "заработок",
		},
		Critical: []string{"предписани", "мжи", "жилинспекц", "штраф", "в суд", "судебн"},
	}
}

// LoadVocabulary читает словари из файла. Пустой путь даёт словари по умолчанию.
func LoadVocabulary(path string) (Vocabulary, error) {
	def := DefaultVocabulary()
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("hunter: словарь %s: %w", path, err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary разбирает YAML словаря.
func ParseVocabulary(data []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("hunter: разбор словаря: %w", err)
	}
	def := DefaultVocabulary()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&v.Keywords, def.Keywords)
	fill(&v.Questions, def.Questions)
	fill(&v.Technical, def.Technical)
	fill(&v.Commercial, def.Commercial)
	fill(&v.Junk, def.Junk)
	fill(&v.Critical, def.Critical)
	return v, nil
}
