package hunter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const minWords = 5

// Reason причина отсева сообщения.
type Reason string

const (
	ReasonPass     Reason = ""
	ReasonShort    Reason = "short"
	ReasonKeywords Reason = "no_keywords"
	ReasonNoIntent Reason = "no_question"
	ReasonJunk     Reason = "junk"
)

// Verdict результат фильтрации.
type Verdict struct {
	Reason    Reason
	Technical bool
	Question  bool
}

// Pass сообщает, что сообщение стало кандидатом.
func (v Verdict) Pass() bool { return v.Reason == ReasonPass }

// Intent предварительная метка намерения до оценки.
func (v Verdict) Intent() string {
	if v.Technical {
		return "technical"
	}
	if v.Question {
		return "question"
	}
	return "commercial"
}

var (
	linkRe    = regexp.MustCompile(`(?i)^(https?://|www\.|t\.me/|@)`)
	complexRe = regexp.MustCompile(`(?:^|[^\p{L}])(?:ЖК|жк|Жк)\s+[«"]?([\p{L}\d][\p{L}\d\-]*)`)
	corpusRe  = regexp.MustCompile(`(?i)(?:корпус|корп\.|к\.)\s*(\d+[\p{L}]?)`)
)

// Filter скомпилированные словари.
type Filter struct {
	keywords   []string
	questions  []*regexp.Regexp
	technical  []string
	commercial []string
	junk       []string
	complexes  []string
}

// NewFilter компилирует словарь.
func NewFilter(v Vocabulary) (*Filter, error) {
	f := &Filter{
		keywords:   lowerAll(v.Keywords),
		technical:  lowerAll(v.Technical),
		commercial: lowerAll(v.Commercial),
		junk:       lowerAll(v.Junk),
		complexes:  v.Complexes,
	}
	for _, expr := range v.Questions {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("hunter: регулярное выражение %q: %w", expr, err)
		}
		f.questions = append(f.questions, re)
	}
	return f, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Check применяет фильтры по порядку: длина, ключевые слова, вопрос или коммерческий интерес, мусор.
func (f *Filter) Check(text string) Verdict {
	if countWords(text) < minWords {
		return Verdict{Reason: ReasonShort}
	}
	lower := strings.ToLower(text)
	if !containsAny(lower, f.keywords) {
		return Verdict{Reason: ReasonKeywords}
	}
	v := Verdict{Technical: containsAny(lower, f.technical)}
	for _, re := range f.questions {
		if re.MatchString(text) {
			v.Question = true
			break
		}
	}
	if !v.Question && !containsAny(lower, f.commercial) {
		v.Reason = ReasonNoIntent
		return v
	}
	if containsAny(lower, f.junk) {
		v.Reason = ReasonJunk
	}
	return v
}

// Geo заголовок с жилым комплексом и корпусом, если они упомянуты.
func (f *Filter) Geo(text string) string {
	var parts []string
	lower := strings.ToLower(text)
	for _, name := range f.complexes {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			parts = append(parts, "ЖК "+name)
			break
		}
	}
	if len(parts) == 0 {
		if m := complexRe.FindStringSubmatch(text); m != nil {
			parts = append(parts, "ЖК "+m[1])
		}
	}
	if m := corpusRe.FindStringSubmatch(text); m != nil {
		parts = append(parts, "корпус "+m[1])
	}
	return strings.Join(parts, ", ")
}

// countWords считает слова, пропуская ссылки и упоминания.
func countWords(text string) int {
	n := 0
	for _, field := range strings.Fields(text) {
		if linkRe.MatchString(field) {
			continue
		}
		if strings.IndexFunc(field, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		n++
	}
	return n
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
